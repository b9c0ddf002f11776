package pagination

// State tells QueryPages how to continue after a page. It is one of End,
// Next or Rest.
type State interface {
	isState()
}

// End stops pagination.
type End struct{}

// Next fetches exactly one more page. The paginator is applied again to that page.
type Next struct {
	URL string
}

// Rest lists every remaining page URL in order. The pages are fetched
// concurrently and pagination stops afterwards; the paginator is not
// consulted again.
type Rest struct {
	URLs []string
}

func (End) isState()  {}
func (Next) isState() {}
func (Rest) isState() {}

// Paginator maps the last decoded page to the next State.
// Returning nil is the same as End.
type Paginator[T any] func(page T) State
