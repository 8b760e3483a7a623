package domain

// Event is one extracted occurrence as a bag of named fields
type Event map[string]Value

// Clone returns a copy of the event
func (e Event) Clone() Event {
	if e == nil {
		return nil
	}
	out := make(Event, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Get returns the field value, null when absent
func (e Event) Get(key string) Value {
	return e[key]
}

// CloneEvents deep-copies a list of events
func CloneEvents(events []Event) []Event {
	if events == nil {
		return nil
	}
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out
}

// EventsFromMaps converts decoded JSON objects into events
func EventsFromMaps(in []map[string]any) []Event {
	out := make([]Event, 0, len(in))
	for _, m := range in {
		e := make(Event, len(m))
		for k, v := range m {
			e[k] = ValueOf(v)
		}
		out = append(out, e)
	}
	return out
}

// Summary holds voyage-level fields such as port, vessel and cargo quantity
type Summary map[string]Value

// Clone returns a copy of the summary
func (s Summary) Clone() Summary {
	if s == nil {
		return nil
	}
	out := make(Summary, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Document is one file handed to the extraction pipeline
type Document struct {
	Filename string
	Content  []byte
}

// LaytimeResult is the outcome of a laytime calculation
type LaytimeResult struct {
	AllowedDays  float64  `json:"laytime_allowed_days"`
	ConsumedDays float64  `json:"laytime_consumed_days"`
	SavedDays    float64  `json:"laytime_saved_days"`
	DemurrageDue float64  `json:"demurrage_due"`
	DispatchDue  float64  `json:"dispatch_due"`
	Log          []string `json:"calculation_log"`
	Events       []Event  `json:"events_with_calculations"`
}
