package domain

import "fmt"

// Question is one entry of the question section. Name is dot-joined labels
// without a trailing dot, exactly as decoded; no case folding is applied.
type Question struct {
	Name  string
	Type  RRType
	Class RRClass
}

func (q Question) String() string {
	return fmt.Sprintf("%s %s %s", q.Name, q.Class, q.Type)
}
