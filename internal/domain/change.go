package domain

// ChangeKind tags a change-feed entry.
type ChangeKind int

const (
	ChangeCreated ChangeKind = iota + 1
	ChangeUpdated
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeUpdated:
		return "updated"
	}
	return "unknown"
}

// ChangeRecord is one committed mutation of a ConfirmationRequest as it
// appears on the change feed. Prior is nil for creations.
type ChangeRecord struct {
	Key      string               `json:"key"`
	Prior    *ConfirmationRequest `json:"prior_image,omitempty"`
	New      ConfirmationRequest  `json:"new_image"`
	Sequence string               `json:"sequence_marker"`

	// DecodeErr is set when the feed entry could not be decoded into a
	// record. Such an entry always fails processing.
	DecodeErr error `json:"-"`
}

// Kind reports whether the entry is a creation or an update.
func (r ChangeRecord) Kind() ChangeKind {
	if r.Prior == nil {
		return ChangeCreated
	}
	return ChangeUpdated
}

// StateChanged reports whether an update moved the record to a new state.
func (r ChangeRecord) StateChanged() bool {
	return r.Prior != nil && r.Prior.State != r.New.State
}
