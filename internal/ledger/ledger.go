// Package ledger holds the pure signup rules: name identity, add/remove
// validation and the confirmed/waitlisted partition.
//
// Nothing here performs I/O or mutates its inputs. The partition is never
// stored; callers recompute it from the signup list and the event capacity
// whenever they need it.
package ledger

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/Shivanand-hulikatti/signup-sheets/internal/model"
)

// NormalizeName returns the uniqueness key for a signup holder name.
func NormalizeName(name string) string {
	// A Caser is stateful, so one is built per call.
	return cases.Fold().String(strings.TrimSpace(name))
}

// Sorted returns a copy of signups ordered by timestamp ascending. Entries
// with equal timestamps keep their relative input order.
func Sorted(signups []model.Signup) []model.Signup {
	out := make([]model.Signup, len(signups))
	copy(out, signups)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Partition splits signups into the first capacity entries by timestamp
// (confirmed) and the rest (waitlisted).
func Partition(signups []model.Signup, capacity int) (confirmed, waitlisted []model.Signup) {
	ordered := Sorted(signups)
	split := capacity
	if split < 0 {
		split = 0
	}
	if split > len(ordered) {
		split = len(ordered)
	}
	confirmed = append([]model.Signup{}, ordered[:split]...)
	waitlisted = append([]model.Signup{}, ordered[split:]...)
	return confirmed, waitlisted
}

// IsFull reports whether every confirmed slot is taken. Fullness is
// informational only; a full event still accepts signups onto the waitlist.
func IsFull(signups []model.Signup, capacity int) bool {
	return len(signups) >= capacity
}

// ValidateAdd fails with model.ErrDuplicateName when name collides with an
// existing signup after normalization.
func ValidateAdd(signups []model.Signup, name string) error {
	if indexOf(signups, NormalizeName(name)) >= 0 {
		return model.ErrDuplicateName
	}
	return nil
}

// ValidateRemove fails with model.ErrNameNotFound when no signup matches name.
func ValidateRemove(signups []model.Signup, name string) error {
	if indexOf(signups, NormalizeName(name)) < 0 {
		return model.ErrNameNotFound
	}
	return nil
}

// Add returns a new collection with signup appended.
func Add(signups []model.Signup, signup model.Signup) ([]model.Signup, error) {
	if err := ValidateAdd(signups, signup.Name); err != nil {
		return nil, err
	}
	out := make([]model.Signup, 0, len(signups)+1)
	out = append(out, signups...)
	return append(out, signup), nil
}

// Remove returns a new collection without the first signup matching name,
// along with the removed record. At most one record is removed.
func Remove(signups []model.Signup, name string) ([]model.Signup, model.Signup, error) {
	idx := indexOf(signups, NormalizeName(name))
	if idx < 0 {
		return nil, model.Signup{}, model.ErrNameNotFound
	}
	out := make([]model.Signup, 0, len(signups)-1)
	out = append(out, signups[:idx]...)
	out = append(out, signups[idx+1:]...)
	return out, signups[idx], nil
}

func indexOf(signups []model.Signup, key string) int {
	for i := range signups {
		if NormalizeName(signups[i].Name) == key {
			return i
		}
	}
	return -1
}
