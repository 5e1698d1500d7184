package jira

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/steveyegge/bdsync/internal/tracker"
	"github.com/steveyegge/bdsync/internal/types"
)

// defaultStatusMap maps lowercased Jira status names onto local statuses.
var defaultStatusMap = map[string]types.Status{
	"to do":            types.StatusOpen,
	"todo":             types.StatusOpen,
	"open":             types.StatusOpen,
	"backlog":          types.StatusOpen,
	"new":              types.StatusOpen,
	"reopened":         types.StatusOpen,
	"in progress":      types.StatusInProgress,
	"in development":   types.StatusInProgress,
	"in review":        types.StatusInProgress,
	"review":           types.StatusInProgress,
	"blocked":          types.StatusBlocked,
	"on hold":          types.StatusBlocked,
	"done":             types.StatusCompleted,
	"closed":           types.StatusCompleted,
	"resolved":         types.StatusCompleted,
	"complete":         types.StatusCompleted,
	"completed":        types.StatusCompleted,
	"won't do":         types.StatusCancelled,
	"won't fix":        types.StatusCancelled,
	"duplicate":        types.StatusCancelled,
	"cannot reproduce": types.StatusCancelled,
	"cancelled":        types.StatusCancelled,
	"canceled":         types.StatusCancelled,
}

// defaultPriorityMap maps lowercased Jira priority names to 0-4.
var defaultPriorityMap = map[string]int{
	"highest":  0,
	"critical": 0,
	"blocker":  0,
	"high":     1,
	"major":    1,
	"medium":   2,
	"normal":   2,
	"low":      3,
	"minor":    3,
	"lowest":   4,
	"trivial":  4,
}

// Mapper is the Jira mapping table. Jira labels cannot contain spaces, so
// labels are written with underscores and reconciled on the way back.
type Mapper struct {
	*tracker.MappingTable
}

var _ tracker.Reconciler = (*Mapper)(nil)

// NewMapper returns the default Jira mapper. Progress is supported only when
// progressField names the custom field that holds it.
func NewMapper(progressField string) *Mapper {
	m := tracker.DefaultMappingTable()
	m.Fields = []string{
		types.FieldTitle,
		types.FieldDescription,
		types.FieldStatus,
		types.FieldPriority,
		types.FieldAssignee,
		types.FieldLabels,
	}
	if progressField != "" {
		m.Fields = append(m.Fields, types.FieldProgress)
	}
	for name, s := range defaultStatusMap {
		m.StatusMap[name] = s
	}
	m.StatusReverseMap = map[types.Status]string{
		types.StatusOpen:       "To Do",
		types.StatusInProgress: "In Progress",
		types.StatusBlocked:    "Blocked",
		types.StatusCompleted:  "Done",
		types.StatusCancelled:  "Won't Do",
	}
	for name, p := range defaultPriorityMap {
		m.PriorityMap[name] = p
	}
	m.PriorityReverseMap = map[int]string{0: "Highest", 1: "High", 2: "Medium", 3: "Low", 4: "Lowest"}
	return &Mapper{MappingTable: m}
}

// LabelName is the spelling Jira stores for a local label.
func LabelName(label string) string {
	return strings.ReplaceAll(label, " ", "_")
}

// Reconcile implements tracker.Reconciler. A remote label is read back as
// the spaced spelling found in known when that spelling maps onto it and
// the underscored form is not itself a known label.
func (m *Mapper) Reconcile(field string, remote interface{}, known ...interface{}) interface{} {
	labels, ok := remote.([]string)
	if field != types.FieldLabels || !ok {
		return remote
	}
	seen := map[string]bool{}
	for _, k := range known {
		set, _ := k.([]string)
		for _, l := range set {
			seen[l] = true
		}
	}
	spelled := map[string]string{}
	for l := range seen {
		if j := LabelName(l); j != l && !seen[j] {
			spelled[j] = l
		}
	}
	if len(spelled) == 0 {
		return remote
	}
	out := make([]string, len(labels))
	for i, l := range labels {
		if s, ok := spelled[l]; ok {
			l = s
		}
		out[i] = l
	}
	return types.NormalizeSet(out)
}

// IssueToFields converts a Jira issue into a snapshot field set in Jira's
// vocabulary (status and priority by name).
func IssueToFields(ji *Issue, progressField string) types.Fields {
	f := types.Fields{
		types.FieldTitle:       ji.Fields.Summary,
		types.FieldDescription: DescriptionToPlainText(ji.Fields.Description),
		types.FieldLabels:      append([]string{}, ji.Fields.Labels...),
	}
	if ji.Fields.Status != nil {
		f[types.FieldStatus] = ji.Fields.Status.Name
	}
	if ji.Fields.Priority != nil {
		f[types.FieldPriority] = ji.Fields.Priority.Name
	}
	if a := ji.Fields.Assignee; a != nil {
		f[types.FieldAssignee] = types.Identity{AccountID: a.AccountID, Name: a.DisplayName}
	}
	if progressField != "" {
		if p, ok := progressValue(ji.Raw[progressField]); ok {
			f[types.FieldProgress] = p
		}
	}
	if t, err := ParseTimestamp(ji.Fields.Updated); err == nil {
		f[types.FieldUpdatedAt] = t
	}
	return f
}

// progressValue reads a numeric custom field. Values in 0-1 are treated as
// fractions.
func progressValue(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	if v > 0 && v < 1 {
		v *= 100
	}
	return int(v + 0.5), true
}

// BuildUpdate splits a change set (already in Jira's vocabulary) into the
// fields for PUT /issue and the target status name, which must go through
// a transition. status is "" when the status is unchanged.
func BuildUpdate(changes map[string]interface{}, progressField string) (fields map[string]interface{}, status string, err error) {
	fields = map[string]interface{}{}
	for field, value := range changes {
		switch field {
		case types.FieldTitle:
			fields["summary"] = fmt.Sprint(value)
		case types.FieldDescription:
			fields["description"] = PlainTextToADF(fmt.Sprint(value))
		case types.FieldStatus:
			status = fmt.Sprint(value)
		case types.FieldPriority:
			fields["priority"] = map[string]string{"name": fmt.Sprint(value)}
		case types.FieldLabels:
			set, err := types.Canonical(types.FieldLabels, value)
			if err != nil {
				return nil, "", err
			}
			labels := make([]string, 0, len(set.([]string)))
			for _, l := range set.([]string) {
				labels = append(labels, LabelName(l))
			}
			fields["labels"] = labels
		case types.FieldAssignee:
			id, err := types.Canonical(types.FieldAssignee, value)
			if err != nil {
				return nil, "", err
			}
			ident := id.(types.Identity)
			switch {
			case ident.IsZero():
				fields["assignee"] = nil
			case ident.AccountID != "":
				fields["assignee"] = map[string]string{"accountId": ident.AccountID}
			default:
				return nil, "", fmt.Errorf("no Jira account id for assignee %q; add jira.user_map.%s", ident.Name, strings.ToLower(ident.Name))
			}
		case types.FieldProgress:
			if progressField == "" {
				return nil, "", fmt.Errorf("jira.progress_field is not configured")
			}
			n, err := types.Canonical(types.FieldProgress, value)
			if err != nil {
				return nil, "", err
			}
			fields[progressField] = n
		default:
			return nil, "", fmt.Errorf("field %s is not supported by Jira", field)
		}
	}
	return fields, status, nil
}

// findTransition picks the transition leading to status, matching the
// target status name first and the transition name second.
func findTransition(transitions []Transition, status string) (Transition, bool) {
	for _, t := range transitions {
		if strings.EqualFold(t.To.Name, status) {
			return t, true
		}
	}
	for _, t := range transitions {
		if strings.EqualFold(t.Name, status) {
			return t, true
		}
	}
	return Transition{}, false
}
