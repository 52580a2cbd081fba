package connection

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"adgmanager/internal/adguard"

	"github.com/sirupsen/logrus"
)

// Codes for failures that never reached a server
const (
	CodeNoActiveInstance = "NO_ACTIVE_INSTANCE"
	CodeInstanceNotFound = "INSTANCE_NOT_FOUND"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeInternal         = "INTERNAL_ERROR"
)

// Request is a UI message. Only the fields the action uses are read.
type Request struct {
	Action string `json:"action"`

	Enabled  *bool `json:"enabled,omitempty"`
	Minutes  int   `json:"minutes,omitempty"`
	Interval *int  `json:"interval,omitempty"`

	InstanceID string `json:"instanceId,omitempty"`
	ID         string `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	URL        string `json:"url,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	MakeActive bool   `json:"makeActive,omitempty"`

	Theme             *string `json:"theme,omitempty"`
	ShowNotifications *bool   `json:"showNotifications,omitempty"`
	AutoRefresh       *bool   `json:"autoRefresh,omitempty"`
}

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

type ErrorBody struct {
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Operation string   `json:"operation,omitempty"`
	Status    int      `json:"status,omitempty"`
	Hints     []string `json:"hints,omitempty"`
}

type actionFunc func(ctx context.Context, m *Manager, req Request) (interface{}, error)

var actions = map[string]actionFunc{
	"saveCredentials": func(ctx context.Context, m *Manager, req Request) (interface{}, error) {
		return m.SaveCredentials(ctx, SaveRequest{
			ID:         req.ID,
			Name:       req.Name,
			URL:        req.URL,
			Username:   req.Username,
			Password:   req.Password,
			MakeActive: req.MakeActive,
		})
	},
	"testConnection": func(ctx context.Context, m *Manager, req Request) (interface{}, error) {
		return m.TestConnection(ctx, TestRequest{
			ID:       req.ID,
			URL:      req.URL,
			Username: req.Username,
			Password: req.Password,
		})
	},
	"getConnectionStatus": func(ctx context.Context, m *Manager, _ Request) (interface{}, error) {
		return m.ConnectionStatus(ctx)
	},
	"getActiveInstance": func(ctx context.Context, m *Manager, _ Request) (interface{}, error) {
		inst, err := m.ActiveInstance(ctx)
		if errors.Is(err, ErrNoActiveInstance) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return inst.View(), nil
	},
	"switchActiveInstance": func(ctx context.Context, m *Manager, req Request) (interface{}, error) {
		return m.SwitchActiveInstance(ctx, req.instanceID())
	},
	"refreshStatus": func(ctx context.Context, m *Manager, _ Request) (interface{}, error) {
		ps, status, err := m.RefreshStatus(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"protection": ps, "status": status}, nil
	},
	"refreshStats": func(ctx context.Context, m *Manager, _ Request) (interface{}, error) {
		return m.RefreshStats(ctx)
	},
	"getStats": func(ctx context.Context, m *Manager, _ Request) (interface{}, error) {
		snap, err := m.Stats(ctx)
		if err != nil || snap == nil {
			return nil, err
		}
		return snap, nil
	},
	"toggleProtection": func(ctx context.Context, m *Manager, req Request) (interface{}, error) {
		if req.Enabled == nil {
			return nil, fmt.Errorf("%w: enabled is required", ErrInvalidRequest)
		}
		return m.ToggleProtection(ctx, *req.Enabled)
	},
	"disableTemporarily": func(ctx context.Context, m *Manager, req Request) (interface{}, error) {
		return m.DisableTemporarily(ctx, req.Minutes)
	},
	"cancelTemporaryDisable": func(ctx context.Context, m *Manager, _ Request) (interface{}, error) {
		return m.CancelTemporaryDisable(ctx)
	},
	"getTemporaryDisableStatus": func(ctx context.Context, m *Manager, _ Request) (interface{}, error) {
		return m.TemporaryDisableStatus(ctx)
	},
	"resetApiClient": func(ctx context.Context, m *Manager, _ Request) (interface{}, error) {
		m.ResetAPIClient(ctx)
		return nil, nil
	},
	"resetConnection": func(ctx context.Context, m *Manager, _ Request) (interface{}, error) {
		return m.ResetConnection(ctx)
	},
	"disconnect": func(ctx context.Context, m *Manager, _ Request) (interface{}, error) {
		return nil, m.Disconnect(ctx)
	},
	"updateRefreshInterval": func(ctx context.Context, m *Manager, req Request) (interface{}, error) {
		if req.Interval == nil {
			return nil, fmt.Errorf("%w: interval is required", ErrInvalidRequest)
		}
		return m.UpdateRefreshInterval(ctx, *req.Interval)
	},
	"getInstances": func(ctx context.Context, m *Manager, _ Request) (interface{}, error) {
		list, active, err := m.Instances(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"instances": list, "activeInstance": active}, nil
	},
	"deleteInstance": func(ctx context.Context, m *Manager, req Request) (interface{}, error) {
		active, err := m.DeleteInstance(ctx, req.instanceID())
		if err != nil {
			return nil, err
		}
		return map[string]string{"activeInstance": active}, nil
	},
	"getPreferences": func(ctx context.Context, m *Manager, _ Request) (interface{}, error) {
		return m.Preferences(ctx)
	},
	"updatePreferences": func(ctx context.Context, m *Manager, req Request) (interface{}, error) {
		return m.UpdatePreferences(ctx, PreferencesUpdate{
			Theme:             req.Theme,
			RefreshInterval:   req.Interval,
			AutoRefresh:       req.AutoRefresh,
			ShowNotifications: req.ShowNotifications,
		})
	},
	"getErrorLog": func(ctx context.Context, m *Manager, _ Request) (interface{}, error) {
		return m.ErrorLog(ctx)
	},
	"clearErrorLog": func(ctx context.Context, m *Manager, _ Request) (interface{}, error) {
		return nil, m.ClearErrorLog(ctx)
	},
}

// instanceID accepts either instanceId or id
func (r Request) instanceID() string {
	if r.InstanceID != "" {
		return r.InstanceID
	}
	return r.ID
}

// Actions lists the action names Handle understands
func Actions() []string {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle dispatches a UI message. It always answers, even when the action
// panics.
func (m *Manager) Handle(ctx context.Context, req Request) (resp Response) {
	logger := m.log.WithField("action", req.Action)

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("Message handler panicked")
			resp = Response{Error: &ErrorBody{
				Code:      CodeInternal,
				Message:   fmt.Sprintf("internal error: %v", r),
				Operation: req.Action,
			}}
		}
	}()

	fn, ok := actions[req.Action]
	if !ok {
		return Response{Error: &ErrorBody{
			Code:      CodeInvalidRequest,
			Message:   fmt.Sprintf("unknown action %q", req.Action),
			Operation: req.Action,
		}}
	}

	data, err := fn(ctx, m, req)
	if err != nil {
		logger.WithError(err).Debug("Message failed")
		return Response{Error: errorBody(req.Action, err)}
	}
	logger.WithFields(logrus.Fields{"success": true}).Debug("Message handled")
	return Response{Success: true, Data: data}
}

func errorBody(action string, err error) *ErrorBody {
	body := &ErrorBody{Message: err.Error(), Operation: action}

	var aerr *adguard.Error
	switch {
	case errors.Is(err, ErrNoActiveInstance):
		body.Code = CodeNoActiveInstance
	case errors.Is(err, ErrInstanceNotFound):
		body.Code = CodeInstanceNotFound
	case errors.Is(err, ErrInvalidRequest):
		body.Code = CodeInvalidRequest
	case errors.As(err, &aerr):
		body.Code = string(aerr.Code)
		body.Message = aerr.Message
		body.Status = aerr.Status
		body.Hints = aerr.Hints
		if aerr.Operation != "" {
			body.Operation = aerr.Operation
		}
	default:
		body.Code = CodeInternal
	}
	return body
}
