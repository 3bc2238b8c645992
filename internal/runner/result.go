package runner

// breakSignal is raised by a break task and consumed by the taskline it
// names (the innermost one when unnamed). It never crosses a taskset
// entry boundary.
type breakSignal struct {
	taskline string
	named    bool
	value    interface{}
}

// result is a task outcome: a plain value or a propagating break.
type result struct {
	value interface{}
	brk   *breakSignal
}

func valueResult(value interface{}) result {
	return result{value: value}
}
