package github

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/steveyegge/bdsync/internal/tracker"
	"github.com/steveyegge/bdsync/internal/types"
)

// SupportedFields lists the fields GitHub has a counterpart for. Progress
// has none.
var SupportedFields = []string{
	types.FieldTitle,
	types.FieldDescription,
	types.FieldStatus,
	types.FieldPriority,
	types.FieldAssignee,
	types.FieldLabels,
}

// NewMapper returns the default GitHub mapping table.
func NewMapper() *tracker.MappingTable {
	m := tracker.DefaultMappingTable()
	m.Fields = append([]string(nil), SupportedFields...)
	for name, s := range map[string]types.Status{
		StatusOpen:       types.StatusOpen,
		StatusInProgress: types.StatusInProgress,
		"in-progress":    types.StatusInProgress,
		StatusBlocked:    types.StatusBlocked,
		StatusClosed:     types.StatusCompleted,
		"completed":      types.StatusCompleted,
		StatusNotPlanned: types.StatusCancelled,
	} {
		m.StatusMap[name] = s
	}
	m.StatusReverseMap = map[types.Status]string{
		types.StatusOpen:       StatusOpen,
		types.StatusInProgress: StatusInProgress,
		types.StatusBlocked:    StatusBlocked,
		types.StatusCompleted:  StatusClosed,
		types.StatusCancelled:  StatusNotPlanned,
	}
	for name, p := range PriorityMapping {
		m.PriorityMap[name] = p
	}
	for p, name := range PriorityNames {
		m.PriorityReverseMap[p] = name
	}
	return m
}

// IssueToFields converts a GitHub issue into a snapshot field set in
// GitHub's vocabulary. The closed state wins over any status label.
func IssueToFields(gh *Issue) types.Fields {
	names := LabelNames(gh.Labels)
	f := types.Fields{
		types.FieldTitle:       gh.Title,
		types.FieldDescription: gh.Body,
		types.FieldStatus:      statusFrom(gh.State, gh.StateReason, names),
		types.FieldLabels:      FilterNonScopedLabels(names),
	}
	if p, ok := priorityFrom(names); ok {
		f[types.FieldPriority] = p
	}
	if login := assigneeLogin(gh); login != "" {
		f[types.FieldAssignee] = types.Identity{AccountID: login, Name: login}
	}
	if gh.UpdatedAt != nil {
		f[types.FieldUpdatedAt] = *gh.UpdatedAt
	}
	return f
}

func statusFrom(state, reason string, labels []string) string {
	if state == "closed" {
		if reason == StatusNotPlanned {
			return StatusNotPlanned
		}
		return StatusClosed
	}
	for _, l := range labels {
		if prefix, value := ParseLabelName(l); prefix == statusPrefix {
			return strings.ToLower(strings.TrimSpace(value))
		}
	}
	return StatusOpen
}

// priorityFrom returns the priority label value ("high") or the P-notation
// label ("P1") as found.
func priorityFrom(labels []string) (string, bool) {
	for _, l := range labels {
		if prefix, value := ParseLabelName(l); prefix == priorityPrefix {
			return strings.ToLower(strings.TrimSpace(value)), true
		}
	}
	for _, l := range labels {
		switch upper := strings.ToUpper(l); upper {
		case "P0", "P1", "P2", "P3", "P4":
			return upper, true
		}
	}
	return "", false
}

func assigneeLogin(gh *Issue) string {
	if gh.Assignee != nil {
		return gh.Assignee.Login
	}
	if len(gh.Assignees) > 0 {
		return gh.Assignees[0].Login
	}
	return ""
}

// BuildUpdate turns a change set (already in GitHub's vocabulary) into a
// PATCH body. current is needed because status, priority and user labels
// share the single labels list.
func BuildUpdate(current *Issue, changes map[string]interface{}) (map[string]interface{}, error) {
	body := map[string]interface{}{}
	names := LabelNames(current.Labels)
	status := statusFrom(current.State, current.StateReason, names)
	priority, hasPriority := priorityFrom(names)
	userLabels := FilterNonScopedLabels(names)
	labelsChanged := false

	for field, value := range changes {
		switch field {
		case types.FieldTitle:
			body["title"] = fmt.Sprint(value)
		case types.FieldDescription:
			body["body"] = fmt.Sprint(value)
		case types.FieldStatus:
			status = strings.ToLower(fmt.Sprint(value))
			labelsChanged = true
		case types.FieldPriority:
			p, err := priorityLabelValue(value)
			if err != nil {
				return nil, err
			}
			priority, hasPriority = p, true
			labelsChanged = true
		case types.FieldLabels:
			set, err := types.Canonical(types.FieldLabels, value)
			if err != nil {
				return nil, err
			}
			userLabels = FilterNonScopedLabels(set.([]string))
			labelsChanged = true
		case types.FieldAssignee:
			id, err := types.Canonical(types.FieldAssignee, value)
			if err != nil {
				return nil, err
			}
			body["assignees"] = assignees(id.(types.Identity))
		default:
			return nil, fmt.Errorf("field %s is not supported by GitHub", field)
		}
	}

	if _, ok := changes[types.FieldStatus]; ok {
		switch status {
		case StatusClosed:
			body["state"], body["state_reason"] = "closed", "completed"
		case StatusNotPlanned:
			body["state"], body["state_reason"] = "closed", "not_planned"
		default:
			body["state"] = "open"
		}
	}
	if labelsChanged {
		body["labels"] = composeLabels(userLabels, status, priority, hasPriority)
	}
	return body, nil
}

// composeLabels rebuilds the label list from user labels plus the derived
// status and priority labels.
func composeLabels(user []string, status, priority string, hasPriority bool) []string {
	out := append([]string(nil), user...)
	switch status {
	case StatusOpen, StatusClosed, StatusNotPlanned, "":
	default:
		out = append(out, statusPrefix+":"+status)
	}
	if hasPriority {
		out = append(out, priorityPrefix+":"+priority)
	}
	sort.Strings(out)
	return out
}

func priorityLabelValue(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		if _, ok := PriorityMapping[strings.ToLower(t)]; ok {
			return strings.ToLower(t), nil
		}
	}
	p, err := types.Canonical(types.FieldPriority, v)
	if err != nil {
		return "", err
	}
	if name, ok := PriorityNames[p.(int)]; ok {
		return name, nil
	}
	return "", fmt.Errorf("priority %s out of range", strconv.Itoa(p.(int)))
}

func assignees(id types.Identity) []string {
	if id.IsZero() {
		return []string{}
	}
	login := id.AccountID
	if login == "" {
		login = id.Name
	}
	return []string{login}
}
