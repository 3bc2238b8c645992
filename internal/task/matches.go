package task

import (
	"regexp"

	"github.com/Obirvalger/lineup/internal/errs"
)

// Matches is a boolean formula over regex leaves evaluated against the
// captured command streams.
type Matches struct {
	And   []*Matches
	Or    []*Matches
	AnyRe string
	ErrRe string
	OutRe string
}

// DecodeMatches parses a match formula from its decoded TOML form.
func DecodeMatches(raw interface{}) (*Matches, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errs.New(errs.Parse, "match formula must be a table")
	}
	if len(m) != 1 {
		return nil, errs.New(errs.Parse,
			"match formula must have exactly one of and, or, any-re, err-re, out-re")
	}
	for key, value := range m {
		switch key {
		case "and", "or":
			list, ok := value.([]interface{})
			if !ok {
				return nil, errs.New(errs.Parse, "match formula `%s` must be an array", key)
			}
			children := make([]*Matches, len(list))
			for i, item := range list {
				child, err := DecodeMatches(item)
				if err != nil {
					return nil, err
				}
				children[i] = child
			}
			if key == "and" {
				return &Matches{And: children}, nil
			}
			return &Matches{Or: children}, nil
		case "any-re", "err-re", "out-re":
			s, ok := value.(string)
			if !ok {
				return nil, errs.New(errs.Parse, "match formula `%s` must be a string", key)
			}
			switch key {
			case "any-re":
				return &Matches{AnyRe: s}, nil
			case "err-re":
				return &Matches{ErrRe: s}, nil
			}
			return &Matches{OutRe: s}, nil
		default:
			return nil, errs.New(errs.Parse, "unknown match formula key `%s`", key)
		}
	}
	return nil, errs.New(errs.Parse, "empty match formula")
}

// IsMatch evaluates the formula against the captured streams.
func (m *Matches) IsMatch(out, err string) (bool, error) {
	switch {
	case m.And != nil:
		for _, child := range m.And {
			matched, cerr := child.IsMatch(out, err)
			if cerr != nil {
				return false, cerr
			}
			if !matched {
				return false, nil
			}
		}
		return true, nil
	case m.Or != nil:
		for _, child := range m.Or {
			matched, cerr := child.IsMatch(out, err)
			if cerr != nil {
				return false, cerr
			}
			if matched {
				return true, nil
			}
		}
		return false, nil
	case m.AnyRe != "":
		re, cerr := regexp.Compile(m.AnyRe)
		if cerr != nil {
			return false, errs.Wrap(errs.Parse, cerr, "any-re")
		}
		return re.MatchString(out) || re.MatchString(err), nil
	case m.ErrRe != "":
		re, cerr := regexp.Compile(m.ErrRe)
		if cerr != nil {
			return false, errs.Wrap(errs.Parse, cerr, "err-re")
		}
		return re.MatchString(err), nil
	case m.OutRe != "":
		re, cerr := regexp.Compile(m.OutRe)
		if cerr != nil {
			return false, errs.Wrap(errs.Parse, cerr, "out-re")
		}
		return re.MatchString(out), nil
	}
	return false, errs.New(errs.Internal, "empty match formula")
}

// Rendered returns a copy with every regex leaf passed through render.
func (m *Matches) Rendered(render func(string) (string, error)) (*Matches, error) {
	if m == nil {
		return nil, nil
	}
	result := &Matches{}
	renderChildren := func(children []*Matches) ([]*Matches, error) {
		rendered := make([]*Matches, len(children))
		for i, child := range children {
			r, err := child.Rendered(render)
			if err != nil {
				return nil, err
			}
			rendered[i] = r
		}
		return rendered, nil
	}
	var err error
	switch {
	case m.And != nil:
		result.And, err = renderChildren(m.And)
	case m.Or != nil:
		result.Or, err = renderChildren(m.Or)
	case m.AnyRe != "":
		result.AnyRe, err = render(m.AnyRe)
	case m.ErrRe != "":
		result.ErrRe, err = render(m.ErrRe)
	case m.OutRe != "":
		result.OutRe, err = render(m.OutRe)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
