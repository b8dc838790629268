package convention

import (
	"regexp"
	"strings"

	"github.com/dot-do/todo/internal/types"
)

// RemotePayload is the untyped remote representation of an issue.
type RemotePayload struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Labels    []string `json:"labels"`
	State     string   `json:"state"` // open | closed
	Assignees []string `json:"assignees"`
}

// Relations are the outgoing relationship references to embed in the
// body. Entries are preformatted refs: "#10" for mapped remote numbers,
// raw local ids where no mapping exists yet.
type Relations struct {
	DependsOn []string
	Blocks    []string
	Parent    string
}

// Empty reports whether no relation is present.
func (r Relations) Empty() bool {
	return len(r.DependsOn) == 0 && len(r.Blocks) == 0 && r.Parent == ""
}

// Decoded holds the typed fields recovered from a remote payload.
// Relation refs are bare number strings for #N and /issues/N forms, raw
// tokens otherwise.
type Decoded struct {
	Title       string
	Description string
	Status      types.Status
	IssueType   types.IssueType
	Priority    int
	Assignee    string
	Labels      []string
	DependsOn   []string
	Blocks      []string
	Parent      string
}

// Encode converts an issue and its relations into the remote payload.
func (c *Codec) Encode(issue *types.Issue, rels Relations) RemotePayload {
	var labels []string
	if label, ok := c.conv.TypeMap[issue.IssueType]; ok {
		labels = append(labels, label)
	}
	if label, ok := c.conv.PriorityMap[issue.Priority]; ok {
		labels = append(labels, label)
	}
	if issue.Status == types.StatusInProgress {
		labels = append(labels, c.conv.InProgressLabel)
	}
	labels = append(labels, issue.Labels...)
	labels = dedupe(labels)

	state := "open"
	if issue.Status == types.StatusClosed {
		state = "closed"
	}

	assignees := []string{}
	if issue.Assignee != "" {
		assignees = []string{issue.Assignee}
	}

	return RemotePayload{
		Title:     issue.Title,
		Body:      c.encodeBody(issue.Description, rels),
		Labels:    labels,
		State:     state,
		Assignees: assignees,
	}
}

// encodeBody appends the relation block to the description. The
// separator and marker appear only when at least one relation exists.
func (c *Codec) encodeBody(description string, rels Relations) string {
	if rels.Empty() {
		return description
	}

	var b strings.Builder
	b.WriteString(description)
	if description != "" {
		b.WriteString("\n\n")
	}
	b.WriteString(c.conv.Separator)
	b.WriteString("\n")
	b.WriteString(Marker)
	if len(rels.DependsOn) > 0 {
		b.WriteString("\nDepends on: ")
		b.WriteString(strings.Join(rels.DependsOn, ", "))
	}
	if len(rels.Blocks) > 0 {
		b.WriteString("\nBlocks: ")
		b.WriteString(strings.Join(rels.Blocks, ", "))
	}
	if rels.Parent != "" {
		b.WriteString("\nParent: ")
		b.WriteString(rels.Parent)
	}
	return b.String()
}

// Decode converts a remote payload into typed issue fields. Missing
// type and priority labels fall back to task and 2. A closed remote
// state overrides any status label.
func (c *Codec) Decode(remote *RemotePayload) Decoded {
	d := Decoded{
		Title:     remote.Title,
		Status:    types.StatusOpen,
		IssueType: types.TypeTask,
		Priority:  2,
	}

	prioritySeen := false
	typeSeen := false
	for _, label := range remote.Labels {
		if label == "" {
			continue
		}
		if issueType, ok := c.typeFor[label]; ok {
			if !typeSeen {
				d.IssueType = issueType
				typeSeen = true
			}
			continue
		}
		if priority, ok := c.prioFor[label]; ok {
			// numerically lowest priority wins when several are present
			if !prioritySeen || priority < d.Priority {
				d.Priority = priority
				prioritySeen = true
			}
			continue
		}
		if label == c.conv.InProgressLabel {
			d.Status = types.StatusInProgress
			continue
		}
		d.Labels = append(d.Labels, label)
	}

	if remote.State == "closed" {
		d.Status = types.StatusClosed
	}

	if len(remote.Assignees) > 0 {
		d.Assignee = remote.Assignees[0]
	}

	d.Description = c.descriptionOf(remote.Body)
	d.DependsOn = c.extractRefs(remote.Body, c.depRe)
	d.Blocks = c.extractRefs(remote.Body, c.blocksRe)
	if parents := c.extractRefs(remote.Body, c.parentRe); len(parents) > 0 {
		d.Parent = parents[0]
	}
	return d
}

// descriptionOf returns the body text before the metadata block.
func (c *Codec) descriptionOf(body string) string {
	sep := "\n" + c.conv.Separator + "\n" + Marker
	if idx := strings.Index(body, sep); idx >= 0 {
		return strings.TrimRight(body[:idx], "\n")
	}
	return body
}

// refPattern recognizes one relation reference. URL-form and #N-form
// both yield the bare number; anything else passes through verbatim.
var refPattern = regexp.MustCompile(`(?:/issues/(\d+)|#(\d+)|^(\S+)$)`)

// extractRefs collects the deduplicated refs matched by the relation
// pattern's first capture group across the whole body.
func (c *Codec) extractRefs(body string, re *regexp.Regexp) []string {
	var refs []string
	for _, match := range re.FindAllStringSubmatch(body, -1) {
		if len(match) < 2 {
			continue
		}
		for _, token := range strings.Split(match[1], ",") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			groups := refPattern.FindStringSubmatch(token)
			if groups == nil {
				refs = append(refs, token)
				continue
			}
			switch {
			case groups[1] != "":
				refs = append(refs, groups[1])
			case groups[2] != "":
				refs = append(refs, groups[2])
			default:
				refs = append(refs, token)
			}
		}
	}
	return dedupe(refs)
}

// dedupe removes duplicates preserving first occurrence.
func dedupe(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
