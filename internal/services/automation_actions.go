package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"opsdesk/internal/auth"
	"opsdesk/internal/models"
)

// Action identifiers understood by the built-in registry.
const (
	ActionCreateTicket     = "CREATE_TICKET"
	ActionSendNotification = "SEND_NOTIFICATION"
	ActionUpdateAsset      = "UPDATE_ASSET"
	ActionUpdateStatus     = "UPDATE_STATUS"
)

// ActionConfig is the typed configuration of one rule action. Each known
// action has its own variant; anything else decodes to UnknownActionConfig.
type ActionConfig interface {
	ActionID() string
}

// CreateTicketConfig configures CREATE_TICKET.
// Templates support {index} (1-based iteration) and {event} (payload JSON).
type CreateTicketConfig struct {
	Title               string `json:"title,omitempty"`
	TitleTemplate       string `json:"title_template,omitempty"`
	Description         string `json:"description,omitempty"`
	DescriptionTemplate string `json:"description_template,omitempty"`
	Priority            string `json:"priority,omitempty"`
	Count               *int   `json:"count,omitempty"`
}

func (CreateTicketConfig) ActionID() string { return ActionCreateTicket }

// SendNotificationConfig configures SEND_NOTIFICATION. Delivery is not wired yet.
type SendNotificationConfig struct {
	Channel   string `json:"channel,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (SendNotificationConfig) ActionID() string { return ActionSendNotification }

// UpdateAssetConfig configures UPDATE_ASSET; the asset comes from payload.asset_id.
type UpdateAssetConfig struct {
	Status string `json:"status,omitempty"`
}

func (UpdateAssetConfig) ActionID() string { return ActionUpdateAsset }

// UpdateStatusConfig configures UPDATE_STATUS.
type UpdateStatusConfig struct {
	Status string `json:"status,omitempty"`
}

func (UpdateStatusConfig) ActionID() string { return ActionUpdateStatus }

// UnknownActionConfig keeps the raw configuration of an action id the
// built-in set does not know, so handlers registered later can read it.
type UnknownActionConfig struct {
	ID  string
	Raw models.Document
}

func (c UnknownActionConfig) ActionID() string { return c.ID }

// DecodeActionConfig converts a stored configuration document into the
// variant for actionID.
func DecodeActionConfig(actionID string, raw models.Document) (ActionConfig, error) {
	switch actionID {
	case ActionCreateTicket:
		var c CreateTicketConfig
		return c, decodeDocument(raw, &c, actionID)
	case ActionSendNotification:
		var c SendNotificationConfig
		return c, decodeDocument(raw, &c, actionID)
	case ActionUpdateAsset:
		var c UpdateAssetConfig
		return c, decodeDocument(raw, &c, actionID)
	case ActionUpdateStatus:
		var c UpdateStatusConfig
		return c, decodeDocument(raw, &c, actionID)
	default:
		return UnknownActionConfig{ID: actionID, Raw: raw}, nil
	}
}

func decodeDocument(raw models.Document, out interface{}, actionID string) error {
	if len(raw) == 0 {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("invalid %s config: %w", actionID, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("invalid %s config: %w", actionID, err)
	}
	return nil
}

// ActionResult is what one action execution reports back to the dispatcher.
type ActionResult struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    models.Document `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Document flattens the result for storage in the execution log.
func (r ActionResult) Document() models.Document {
	b, err := json.Marshal(r)
	if err != nil {
		return models.Document{"success": r.Success, "error": r.Error}
	}
	var doc models.Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return models.Document{"success": r.Success, "error": r.Error}
	}
	return doc
}

func actionFailure(msg string) ActionResult {
	return ActionResult{Success: false, Error: msg}
}

// ActionRequest carries everything a handler may use. Session scopes all
// side effects to the caller's company.
type ActionRequest struct {
	Session *auth.Session
	Event   string
	Config  ActionConfig
	Payload models.Document
}

// ActionHandler performs one action. A returned error is treated like a
// failed result whose message is the error text.
type ActionHandler func(ctx context.Context, req ActionRequest) (ActionResult, error)

// ActionRegistry maps action ids to handlers.
type ActionRegistry struct {
	handlers map[string]ActionHandler
}

func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{handlers: make(map[string]ActionHandler)}
}

// Register adds or replaces the handler for id.
func (r *ActionRegistry) Register(id string, h ActionHandler) {
	r.handlers[id] = h
}

func (r *ActionRegistry) Lookup(id string) (ActionHandler, bool) {
	h, ok := r.handlers[id]
	return h, ok
}

// Execute decodes the configuration and runs the registered handler.
func (r *ActionRegistry) Execute(ctx context.Context, sess *auth.Session, actionID string, rawConfig, payload models.Document, event string) (ActionResult, error) {
	h, ok := r.Lookup(actionID)
	if !ok {
		return actionFailure("Unknown action: " + actionID), nil
	}
	cfg, err := DecodeActionConfig(actionID, rawConfig)
	if err != nil {
		return ActionResult{}, err
	}
	return h(ctx, ActionRequest{Session: sess, Event: event, Config: cfg, Payload: payload})
}

// TicketCreator is the ticketing collaborator used by CREATE_TICKET.
type TicketCreator interface {
	CreateTicket(ctx context.Context, sess *auth.Session, req *TicketCreateRequest) (*models.Ticket, error)
}

// AssetUpdater is the asset collaborator used by UPDATE_ASSET.
type AssetUpdater interface {
	UpdateAsset(ctx context.Context, sess *auth.Session, assetID string, req *AssetUpdateRequest) (*models.Asset, error)
}

func registerBuiltinActions(r *ActionRegistry, tickets TicketCreator, assets AssetUpdater) {
	r.Register(ActionCreateTicket, createTicketAction(tickets))
	r.Register(ActionSendNotification, func(ctx context.Context, req ActionRequest) (ActionResult, error) {
		return ActionResult{Success: true, Message: "Notification sent (placeholder)"}, nil
	})
	r.Register(ActionUpdateAsset, updateAssetAction(assets))
	r.Register(ActionUpdateStatus, func(ctx context.Context, req ActionRequest) (ActionResult, error) {
		return ActionResult{Success: true, Message: "Status updated (placeholder)"}, nil
	})
}

func createTicketAction(tickets TicketCreator) ActionHandler {
	return func(ctx context.Context, req ActionRequest) (ActionResult, error) {
		if tickets == nil {
			return ActionResult{}, fmt.Errorf("ticketing: %w", ErrServiceDisabled)
		}
		cfg, _ := req.Config.(CreateTicketConfig)

		count := 1
		if cfg.Count != nil && *cfg.Count > 0 {
			count = *cfg.Count
		}
		eventJSON := payloadJSON(req.Payload)

		created := make([]*models.Ticket, 0, count)
		var lastErr error
		for i := 1; i <= count; i++ {
			title := cfg.Title
			if cfg.TitleTemplate != "" {
				title = renderTemplate(cfg.TitleTemplate, i, eventJSON)
			} else if title == "" {
				title = fmt.Sprintf("Automated Ticket %d", i)
			}
			desc := cfg.Description
			if cfg.DescriptionTemplate != "" {
				desc = renderTemplate(cfg.DescriptionTemplate, i, eventJSON)
			} else if desc == "" {
				desc = "Automated ticket created by automation rule"
			}

			t, err := tickets.CreateTicket(ctx, req.Session, &TicketCreateRequest{
				Title:       title,
				Description: desc,
				Priority:    cfg.Priority,
			})
			if err != nil {
				lastErr = err
				continue
			}
			created = append(created, t)
		}

		res := ActionResult{
			Success: len(created) > 0,
			Data:    models.Document{"tickets": created, "count": len(created)},
		}
		if !res.Success && lastErr != nil {
			res.Error = lastErr.Error()
		}
		return res, nil
	}
}

func updateAssetAction(assets AssetUpdater) ActionHandler {
	return func(ctx context.Context, req ActionRequest) (ActionResult, error) {
		cfg, _ := req.Config.(UpdateAssetConfig)
		assetID := stringValue(req.Payload["asset_id"])
		if assetID == "" || cfg.Status == "" {
			return actionFailure("Missing asset_id or status in config"), nil
		}
		if assets == nil {
			return ActionResult{}, fmt.Errorf("assets: %w", ErrServiceDisabled)
		}
		status := cfg.Status
		asset, err := assets.UpdateAsset(withAutomationOrigin(ctx), req.Session, assetID, &AssetUpdateRequest{Status: &status})
		if err != nil {
			return actionFailure(err.Error()), nil
		}
		return ActionResult{Success: true, Data: models.Document{"asset": asset}}, nil
	}
}

func renderTemplate(tpl string, index int, eventJSON string) string {
	out := strings.ReplaceAll(tpl, "{index}", strconv.Itoa(index))
	return strings.ReplaceAll(out, "{event}", eventJSON)
}

func payloadJSON(p models.Document) string {
	if p == nil {
		return "{}"
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// stringValue renders ids that may arrive as strings or JSON numbers.
func stringValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

type automationOriginKey struct{}

// withAutomationOrigin marks writes performed by an automation action so
// the written subsystem does not re-dispatch its own change event.
func withAutomationOrigin(ctx context.Context) context.Context {
	return context.WithValue(ctx, automationOriginKey{}, true)
}

func fromAutomation(ctx context.Context) bool {
	v, _ := ctx.Value(automationOriginKey{}).(bool)
	return v
}
