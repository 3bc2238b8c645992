package vars

// Special variable names the runtime maintains. They survive clean-vars.
var specialNames = map[string]bool{
	"item":         true,
	"manifest_dir": true,
	"result":       true,
	"taskline":     true,
	"worker":       true,
	"row":          true,
	"row_by_item":  true,
	"row_by_name":  true,
}

func IsSpecial(name string) bool {
	return specialNames[name]
}

// Scope is one frame chain flattened into a map. Frames are realized by
// cloning at every scope boundary, so sibling tasks never observe each
// other's writes.
type Scope struct {
	values map[string]interface{}
}

func NewScope() *Scope {
	return &Scope{values: make(map[string]interface{})}
}

func (s *Scope) Clone() *Scope {
	values := make(map[string]interface{}, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	return &Scope{values: values}
}

// CleanUser returns a scope holding only the special variables.
func (s *Scope) CleanUser() *Scope {
	values := make(map[string]interface{})
	for k, v := range s.values {
		if IsSpecial(k) {
			values[k] = v
		}
	}
	return &Scope{values: values}
}

func (s *Scope) Set(name string, value interface{}) {
	s.values[name] = value
}

func (s *Scope) Get(name string) (interface{}, bool) {
	v, ok := s.values[name]
	return v, ok
}

func (s *Scope) Extend(ctx map[string]interface{}) {
	for k, v := range ctx {
		s.values[k] = v
	}
}

// Map returns a copy of the flattened bindings for template evaluation.
func (s *Scope) Map() map[string]interface{} {
	values := make(map[string]interface{}, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	return values
}
