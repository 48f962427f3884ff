package earthengine

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/wildfire-harvester/internal/harvest"
)

// Remote operation states reported in operation metadata.
const (
	StatePending    = "PENDING"
	StateRunning    = "RUNNING"
	StateCancelling = "CANCELLING"
	StateSucceeded  = "SUCCEEDED"
	StateCancelled  = "CANCELLED"
	StateFailed     = "FAILED"
)

type operationResource struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Metadata struct {
		State       string    `json:"state"`
		Description string    `json:"description"`
		Type        string    `json:"type"`
		CreateTime  time.Time `json:"createTime"`
		UpdateTime  time.Time `json:"updateTime"`
	} `json:"metadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Operation summarizes one long-running Earth Engine task.
type Operation struct {
	Name        string
	State       string
	Description string
	Type        string
	Done        bool
	Error       string
	CreateTime  time.Time
	UpdateTime  time.Time
}

func (r operationResource) toOperation() Operation {
	op := Operation{
		Name:        r.Name,
		State:       r.Metadata.State,
		Description: r.Metadata.Description,
		Type:        r.Metadata.Type,
		Done:        r.Done,
		CreateTime:  r.Metadata.CreateTime,
		UpdateTime:  r.Metadata.UpdateTime,
	}
	if r.Error != nil {
		op.Error = r.Error.Message
	}
	return op
}

// JobState maps the remote state onto the harvester's job lifecycle.
func (o Operation) JobState() harvest.JobState {
	switch o.State {
	case StatePending:
		return harvest.JobSubmitted
	case StateRunning, StateCancelling:
		return harvest.JobActive
	case StateSucceeded:
		return harvest.JobFinished
	case StateFailed, StateCancelled:
		return harvest.JobFailed
	}
	if o.Done {
		if o.Error != "" {
			return harvest.JobFailed
		}
		return harvest.JobFinished
	}
	return harvest.JobUnknown
}

func (c *Client) operationPath(name string) string {
	if !strings.HasPrefix(name, "projects/") {
		name = c.projectPath() + "/operations/" + name
	}
	return "/" + name
}

// GetOperation fetches one operation by resource name or bare id.
func (c *Client) GetOperation(ctx context.Context, name string) (Operation, error) {
	var res operationResource
	if err := c.do(c.request(ctx), http.MethodGet, c.operationPath(name), &res); err != nil {
		return Operation{}, fmt.Errorf("get operation %s: %w", name, err)
	}
	return res.toOperation(), nil
}

// ListOperations returns every operation of the project, following pagination.
// filter is passed through verbatim when non-empty.
func (c *Client) ListOperations(ctx context.Context, filter string) ([]Operation, error) {
	path := fmt.Sprintf("/%s/operations", c.projectPath())
	var ops []Operation
	token := ""
	for {
		req := c.request(ctx).SetQueryParam("pageSize", strconv.Itoa(c.cfg.PageSize))
		if filter != "" {
			req.SetQueryParam("filter", filter)
		}
		if token != "" {
			req.SetQueryParam("pageToken", token)
		}
		var page struct {
			Operations    []operationResource `json:"operations"`
			NextPageToken string              `json:"nextPageToken"`
		}
		if err := c.do(req, http.MethodGet, path, &page); err != nil {
			return nil, fmt.Errorf("list operations: %w", err)
		}
		for _, res := range page.Operations {
			ops = append(ops, res.toOperation())
		}
		if page.NextPageToken == "" {
			return ops, nil
		}
		token = page.NextPageToken
	}
}

// CancelOperation requests cancellation of one operation.
func (c *Client) CancelOperation(ctx context.Context, name string) error {
	path := c.operationPath(name) + ":cancel"
	if err := c.do(c.request(ctx).SetBody(map[string]any{}), http.MethodPost, path, nil); err != nil {
		return fmt.Errorf("cancel operation %s: %w", name, err)
	}
	return nil
}

// CountByState tallies operations by remote state.
func CountByState(ops []Operation) map[string]int {
	counts := make(map[string]int)
	for _, op := range ops {
		state := op.State
		if state == "" {
			state = "UNKNOWN"
		}
		counts[state]++
	}
	return counts
}
