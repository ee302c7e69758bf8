package shared

// BatchRequest asks a resolver for the records behind a set of keys.
// Keys are distinct.
type BatchRequest[K comparable] struct {
	Keys []K `json:"keys"`
}

// BatchReply carries the records a resolver found. It may cover only a
// subset of the requested keys; an absent key means "not found" or
// "resolver error", never a protocol fault.
type BatchReply[R any] struct {
	Records []R `json:"records"`
}
