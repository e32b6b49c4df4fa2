// Package label maps lesion class names to the integer indices the model
// works with. An Encoding is fit once from the training split's class set and
// frozen; checkpoints embed it so predictions can be decoded later.
package label

import (
	"encoding/json"
	"fmt"
	"sort"
)

type UnknownLabelError struct {
	Name string
}

func (e *UnknownLabelError) Error() string {
	return fmt.Sprintf("unknown label %q", e.Name)
}

type OutOfRangeError struct {
	Index      int
	NumClasses int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("index %d out of range [0, %d)", e.Index, e.NumClasses)
}

// Encoding is a bijection between class names and indices [0, NumClasses).
// Indices are assigned in lexicographic class-name order, so the same class
// set always produces the same encoding.
type Encoding struct {
	classes []string
	indices map[string]int
}

// Fit builds an encoding from a set of class names. Duplicates are collapsed;
// input order is irrelevant.
func Fit(names []string) Encoding {
	seen := make(map[string]bool, len(names))
	classes := make([]string, 0, len(names))
	for _, name := range names {
		if !seen[name] {
			seen[name] = true
			classes = append(classes, name)
		}
	}
	sort.Strings(classes)

	indices := make(map[string]int, len(classes))
	for i, name := range classes {
		indices[name] = i
	}
	return Encoding{classes: classes, indices: indices}
}

func (e Encoding) NumClasses() int {
	return len(e.classes)
}

// Classes returns the class names in index order.
func (e Encoding) Classes() []string {
	out := make([]string, len(e.classes))
	copy(out, e.classes)
	return out
}

func (e Encoding) Encode(name string) (int, error) {
	idx, ok := e.indices[name]
	if !ok {
		return 0, &UnknownLabelError{Name: name}
	}
	return idx, nil
}

func (e Encoding) Decode(index int) (string, error) {
	if index < 0 || index >= len(e.classes) {
		return "", &OutOfRangeError{Index: index, NumClasses: len(e.classes)}
	}
	return e.classes[index], nil
}

func (e Encoding) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.classes)
}

func (e *Encoding) UnmarshalJSON(data []byte) error {
	var classes []string
	if err := json.Unmarshal(data, &classes); err != nil {
		return err
	}
	*e = Fit(classes)
	return nil
}
