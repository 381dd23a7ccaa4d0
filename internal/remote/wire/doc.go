// Package wire converts tagged Go structs to and from the generic document form
// used by the remote store.
//
// A document is a map[string]any keyed by numeric field ids taken from `wire`
// struct tags:
//
//	type Task struct {
//		ID   string   `wire:"1"`
//		Type TaskType `wire:"3,enum"`
//	}
//
// Field 3 is left out when Type is the empty string. Nil pointers, nil interfaces,
// nil maps, nil slices and zero times are always left out. Times are stored as
// unix milliseconds.
//
// Interface fields hold one of a registered set of variants (see OneOf). A variant
// reports its field id through WireField() and is stored as a single entry map:
// {"<field>": <variant document>}.
package wire
