package sheets

import (
	"strings"

	"github.com/jonathan/carousel-generator/internal/types"
)

// Default tag allow-lists.
var (
	DefaultVirality   = []string{"VIRUS", "BEST", "GOOD"}
	DefaultEngagement = []string{"BEST ER", "VIRAL ER"}
)

// Filter keeps posts whose virality and engagement tags are both allowed.
// Tags compare exactly after trimming surrounding whitespace.
type Filter struct {
	Virality   []string
	Engagement []string
}

// DefaultFilter returns the default allow-lists.
func DefaultFilter() Filter {
	return Filter{Virality: DefaultVirality, Engagement: DefaultEngagement}
}

// NewFilter builds a filter from allow-lists; empty lists
// fall back to the defaults.
func NewFilter(virality, engagement []string) Filter {
	f := DefaultFilter()
	if v := clean(virality); len(v) > 0 {
		f.Virality = v
	}
	if e := clean(engagement); len(e) > 0 {
		f.Engagement = e
	}
	return f
}

// Match reports whether both of the post's tags are allowed. Script text is
// not inspected; an empty script fails later in its own iteration.
func (f Filter) Match(p types.CandidatePost) bool {
	return contains(f.Virality, p.ViralityTag) && contains(f.Engagement, p.EngagementTag)
}

// Apply returns the matching posts in their original order.
func (f Filter) Apply(posts []types.CandidatePost) []types.CandidatePost {
	out := make([]types.CandidatePost, 0, len(posts))
	for _, p := range posts {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	return out
}

func contains(allowed []string, tag string) bool {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return false
	}
	for _, a := range allowed {
		if a == tag {
			return true
		}
	}
	return false
}

func clean(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
