package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"opsdesk/internal/auth"
	"opsdesk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestTicketService_CreateTicket(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := employeeSession("c1")

	_, err := env.tickets.CreateTicket(ctx, sess, &TicketCreateRequest{Title: "x"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "Title and description are required", ve.Msg)

	_, err = env.tickets.CreateTicket(ctx, nil, &TicketCreateRequest{Title: "x", Description: "y"})
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	ticket, err := env.tickets.CreateTicket(ctx, sess, &TicketCreateRequest{Title: "VPN", Description: "cannot connect"})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^TICK-\d+-[0-9A-Z]{6}$`), ticket.TicketNumber)
	assert.Equal(t, "Medium", ticket.Priority)
	assert.Equal(t, TicketStatusOpen, ticket.Status)
	assert.Equal(t, sess.UserID, ticket.RequesterUserID)

	var sla models.SLAMetric
	require.NoError(t, env.db.Where("ticket_id = ?", ticket.ID).First(&sla).Error)
	assert.Equal(t, 480, sla.TargetResolutionMinutes)

	got, err := env.tickets.GetTicket(ctx, sess, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.TicketNumber, got.TicketNumber)
	_, err = env.tickets.GetTicket(ctx, employeeSession("c2"), ticket.ID)
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestTicketService_ListTickets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, title := range []string{"first", "second"} {
		at := base.Add(time.Duration(i) * time.Minute)
		env.tickets.now = func() time.Time { return at }
		_, err := env.tickets.CreateTicket(ctx, employeeSession("c1"), &TicketCreateRequest{Title: title, Description: "d"})
		require.NoError(t, err)
	}
	_, err := env.tickets.CreateTicket(ctx, employeeSession("c2"), &TicketCreateRequest{Title: "elsewhere", Description: "d"})
	require.NoError(t, err)

	tickets, err := env.tickets.ListTickets(ctx, employeeSession("c1"), "")
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, "second", tickets[0].Title)

	tickets, err = env.tickets.ListTickets(ctx, employeeSession("c1"), TicketStatusClosed)
	require.NoError(t, err)
	assert.Empty(t, tickets)
}

func TestTicketService_CloseRecordsResolution(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := employeeSession("c1")
	opened := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	env.tickets.now = func() time.Time { return opened }
	ticket, err := env.tickets.CreateTicket(ctx, sess, &TicketCreateRequest{Title: "Disk", Description: "full"})
	require.NoError(t, err)

	_, err = env.tickets.UpdateTicketStatus(ctx, sess, ticket.ID, &TicketStatusRequest{Status: "Sleeping"})
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)

	resolved := opened.Add(30 * time.Minute)
	env.tickets.now = func() time.Time { return resolved }
	got, err := env.tickets.UpdateTicketStatus(ctx, sess, ticket.ID, &TicketStatusRequest{Status: TicketStatusResolved})
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedAt)
	assert.Nil(t, got.ClosedAt)

	env.tickets.now = func() time.Time { return opened.Add(95*time.Minute + 30*time.Second) }
	got, err = env.tickets.UpdateTicketStatus(ctx, sess, ticket.ID, &TicketStatusRequest{Status: TicketStatusClosed, AssignedUserID: "it-1"})
	require.NoError(t, err)
	require.NotNil(t, got.ClosedAt)
	assert.True(t, got.ResolvedAt.Equal(resolved), "resolved_at is kept from the first resolution")
	require.NotNil(t, got.AssignedUserID)
	assert.Equal(t, "it-1", *got.AssignedUserID)

	var sla models.SLAMetric
	require.NoError(t, env.db.Where("ticket_id = ?", ticket.ID).First(&sla).Error)
	require.NotNil(t, sla.TimeToResolveMinutes)
	assert.Equal(t, 95, *sla.TimeToResolveMinutes)
	require.NotNil(t, sla.SLAMet)
	assert.True(t, *sla.SLAMet)

	_, err = env.tickets.UpdateTicketStatus(ctx, employeeSession("c2"), ticket.ID, &TicketStatusRequest{Status: TicketStatusOpen})
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestTicketService_CloseWithoutSLARecordCreatesOne(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := employeeSession("c1")
	env.tickets.SetDefaults("", 60)
	opened := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	env.tickets.now = func() time.Time { return opened }

	ticket, err := env.tickets.CreateTicket(ctx, sess, &TicketCreateRequest{Title: "Badge", Description: "lost"})
	require.NoError(t, err)
	require.NoError(t, env.db.Where("ticket_id = ?", ticket.ID).Delete(&models.SLAMetric{}).Error)

	env.tickets.now = func() time.Time { return opened.Add(2 * time.Hour) }
	_, err = env.tickets.UpdateTicketStatus(ctx, sess, ticket.ID, &TicketStatusRequest{Status: TicketStatusClosed})
	require.NoError(t, err)

	var sla models.SLAMetric
	require.NoError(t, env.db.Where("ticket_id = ?", ticket.ID).First(&sla).Error)
	assert.Equal(t, 60, sla.TargetResolutionMinutes)
	require.NotNil(t, sla.TimeToResolveMinutes)
	assert.Equal(t, 120, *sla.TimeToResolveMinutes)
	require.NotNil(t, sla.SLAMet)
	assert.False(t, *sla.SLAMet)
}

func TestTicketService_AssignTicket(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := adminSession("c1")

	ticket, err := env.tickets.CreateTicket(ctx, employeeSession("c1"), &TicketCreateRequest{Title: "a", Description: "b"})
	require.NoError(t, err)
	itUser, err := env.users.CreateUser(ctx, admin, &UserCreateRequest{Email: "it@corp.io", Role: auth.RoleITAdmin})
	require.NoError(t, err)
	staff, err := env.users.CreateUser(ctx, admin, &UserCreateRequest{Email: "staff@corp.io", Role: auth.RoleEmployee})
	require.NoError(t, err)
	outsider, err := env.users.CreateUser(ctx, adminSession("c2"), &UserCreateRequest{Email: "it@other.io", Role: auth.RoleITAdmin})
	require.NoError(t, err)

	_, err = env.tickets.AssignTicket(ctx, employeeSession("c1"), ticket.ID, itUser.ID)
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = env.tickets.AssignTicket(ctx, admin, ticket.ID, staff.ID)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "Tickets can only be assigned to IT_ADMIN users", ve.Msg)

	_, err = env.tickets.AssignTicket(ctx, admin, ticket.ID, outsider.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)

	got, err := env.tickets.AssignTicket(ctx, admin, ticket.ID, itUser.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AssignedUserID)
	assert.Equal(t, itUser.ID, *got.AssignedUserID)

	got, err = env.tickets.AssignTicket(ctx, admin, ticket.ID, "")
	require.NoError(t, err)
	assert.Nil(t, got.AssignedUserID)
}

func TestTicketService_SetDefaults(t *testing.T) {
	env := newTestEnv(t)
	env.tickets.SetDefaults("Low", 60)

	ticket, err := env.tickets.CreateTicket(context.Background(), employeeSession("c1"), &TicketCreateRequest{Title: "a", Description: "b"})
	require.NoError(t, err)
	assert.Equal(t, "Low", ticket.Priority)

	var sla models.SLAMetric
	require.NoError(t, env.db.Where("ticket_id = ?", ticket.ID).First(&sla).Error)
	assert.Equal(t, 60, sla.TargetResolutionMinutes)
}

func TestAssetService_CRUD(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := adminSession("c1")

	_, err := env.assets.CreateAsset(ctx, employeeSession("c1"), &AssetCreateRequest{AssetTag: "A-1", Name: "Laptop", Type: "Hardware"})
	assert.ErrorIs(t, err, auth.ErrForbidden)

	asset, err := env.assets.CreateAsset(ctx, admin, &AssetCreateRequest{AssetTag: "A-1", Name: "Laptop", Type: "Hardware"})
	require.NoError(t, err)
	assert.Equal(t, "Stock", asset.Status)

	_, err = env.assets.CreateAsset(ctx, admin, &AssetCreateRequest{AssetTag: "A-1", Name: "Dup", Type: "Hardware"})
	assert.ErrorIs(t, err, ErrAssetTagExists)

	// same tag in another company is fine
	_, err = env.assets.CreateAsset(ctx, adminSession("c2"), &AssetCreateRequest{AssetTag: "A-1", Name: "Other", Type: "Hardware"})
	require.NoError(t, err)

	list, err := env.assets.ListAssets(ctx, employeeSession("c1"), "")
	require.NoError(t, err)
	require.Len(t, list, 1)

	status := "Assigned"
	owner := "u1"
	updated, err := env.assets.UpdateAsset(ctx, admin, asset.ID, &AssetUpdateRequest{Status: &status, AssignedToUserID: &owner})
	require.NoError(t, err)
	assert.Equal(t, "Assigned", updated.Status)
	require.NotNil(t, updated.AssignedToUserID)

	list, err = env.assets.ListAssets(ctx, admin, "Stock")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = env.assets.UpdateAsset(ctx, adminSession("c2"), asset.ID, &AssetUpdateRequest{Status: &status})
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestAssetService_StatusChangeDispatches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := adminSession("c1")
	seedRule(t, env.db, models.AutomationRule{
		CompanyID: "c1", TriggerEvent: EventAssetStatusChange, Action: ActionCreateTicket, IsActive: true,
		Conditions:   models.Document{"new_status": "Repair"},
		ActionConfig: models.Document{"title": "Repair follow-up"},
	}, 0)

	asset, err := env.assets.CreateAsset(ctx, admin, &AssetCreateRequest{AssetTag: "A-9", Name: "Printer", Type: "Hardware"})
	require.NoError(t, err)

	name := "Printer 2"
	_, err = env.assets.UpdateAsset(ctx, admin, asset.ID, &AssetUpdateRequest{Name: &name})
	require.NoError(t, err)
	assert.Zero(t, countRows(t, env.db, &models.AutomationLog{}, ""))

	repair := "Repair"
	_, err = env.assets.UpdateAsset(ctx, admin, asset.ID, &AssetUpdateRequest{Status: &repair})
	require.NoError(t, err)

	var entry models.AutomationLog
	require.NoError(t, env.db.First(&entry).Error)
	assert.Equal(t, EventAssetStatusChange, entry.TriggerEvent)
	assert.Equal(t, "Stock", entry.TriggeredByData["old_status"])
	assert.Equal(t, "Repair", entry.TriggeredByData["new_status"])
	assert.Equal(t, int64(1), countRows(t, env.db, &models.Ticket{}, "title = ?", "Repair follow-up"))
}

func TestUpdateAssetAction_DoesNotRedispatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := adminSession("c1")
	asset, err := env.assets.CreateAsset(ctx, admin, &AssetCreateRequest{AssetTag: "L-1", Name: "Laptop", Type: "Hardware", Status: "Assigned"})
	require.NoError(t, err)

	seedRule(t, env.db, models.AutomationRule{
		CompanyID: "c1", TriggerEvent: EventEmployeeTerminated, Action: ActionUpdateAsset, IsActive: true,
		ActionConfig: models.Document{"status": "Retired"},
	}, 0)
	seedRule(t, env.db, models.AutomationRule{
		CompanyID: "c1", TriggerEvent: EventAssetStatusChange, Action: ActionCreateTicket, IsActive: true,
	}, 0)

	res, err := env.automation.Execute(ctx, admin, EventEmployeeTerminated, models.Document{"asset_id": asset.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Executed)

	var reloaded models.Asset
	require.NoError(t, env.db.First(&reloaded, "id = ?", asset.ID).Error)
	assert.Equal(t, "Retired", reloaded.Status)
	assert.Zero(t, countRows(t, env.db, &models.Ticket{}, ""))
}

func TestUpdateAssetAction_NonAdminFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	asset, err := env.assets.CreateAsset(ctx, adminSession("c1"), &AssetCreateRequest{AssetTag: "L-2", Name: "Laptop", Type: "Hardware"})
	require.NoError(t, err)
	seedRule(t, env.db, models.AutomationRule{
		CompanyID: "c1", TriggerEvent: EventEmployeeTerminated, Action: ActionUpdateAsset, IsActive: true,
		ActionConfig: models.Document{"status": "Retired"},
	}, 0)

	res, err := env.automation.Execute(ctx, employeeSession("c1"), EventEmployeeTerminated, models.Document{"asset_id": asset.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, auth.ErrForbidden.Error(), res.Results[0].Result.Error)
}

func TestUserService_CreateUserDispatches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := adminSession("c1")
	seedRule(t, env.db, models.AutomationRule{
		CompanyID: "c1", TriggerEvent: EventUserCreated, Action: ActionCreateTicket, IsActive: true,
		Conditions:   models.Document{"role": auth.RoleEmployee},
		ActionConfig: models.Document{"title_template": "Onboard {index}", "description_template": "Payload {event}"},
	}, 0)

	user, err := env.users.CreateUser(ctx, admin, &UserCreateRequest{Email: "New.Hire@Example.com", Role: auth.RoleEmployee})
	require.NoError(t, err)
	assert.Equal(t, "new.hire@example.com", user.Email)
	assert.Equal(t, "c1", user.CompanyID)

	var ticket models.Ticket
	require.NoError(t, env.db.Where("company_id = ?", "c1").First(&ticket).Error)
	assert.Equal(t, "Onboard 1", ticket.Title)
	assert.Contains(t, ticket.Description, user.ID)

	var entry models.AutomationLog
	require.NoError(t, env.db.First(&entry).Error)
	assert.Equal(t, models.ExecutionSuccess, entry.ExecutionStatus)
	assert.Equal(t, user.Email, entry.TriggeredByData["email"])
	assert.Equal(t, "c1", entry.TriggeredByData["company_id"])
}

func TestAssetService_AssignAndUnassign(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := adminSession("c1")

	holder, err := env.users.CreateUser(ctx, admin, &UserCreateRequest{Email: "holder@corp.io", Role: auth.RoleEmployee})
	require.NoError(t, err)
	outsider, err := env.users.CreateUser(ctx, adminSession("c2"), &UserCreateRequest{Email: "out@other.io", Role: auth.RoleEmployee})
	require.NoError(t, err)
	asset, err := env.assets.CreateAsset(ctx, admin, &AssetCreateRequest{AssetTag: "LT-1", Name: "Laptop", Type: "Hardware"})
	require.NoError(t, err)

	_, err = env.assets.AssignAsset(ctx, employeeSession("c1"), asset.ID, holder.ID)
	assert.ErrorIs(t, err, auth.ErrForbidden)
	_, err = env.assets.AssignAsset(ctx, admin, asset.ID, outsider.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = env.assets.AssignAsset(ctx, admin, "missing", holder.ID)
	assert.ErrorIs(t, err, ErrAssetNotFound)

	got, err := env.assets.AssignAsset(ctx, admin, asset.ID, holder.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AssignedToUserID)
	assert.Equal(t, holder.ID, *got.AssignedToUserID)
	assert.Equal(t, "Stock", got.Status)

	got, err = env.assets.UnassignAsset(ctx, admin, asset.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AssignedToUserID)

	var stored models.Asset
	require.NoError(t, env.db.First(&stored, "id = ?", asset.ID).Error)
	assert.Nil(t, stored.AssignedToUserID)
}

func TestUserService_ConcurrentDuplicateIsConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 模拟另一个请求在查重之后、插入之前写入同一邮箱
	inserted := false
	require.NoError(t, env.db.Callback().Create().Before("gorm:create").Register("test:concurrent_signup", func(tx *gorm.DB) {
		if inserted || tx.Statement.Table != "users" {
			return
		}
		inserted = true
		tx.Session(&gorm.Session{NewDB: true}).Exec(
			"INSERT INTO users (id, company_id, email, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
			"other-user", "c1", "race@corp.io", auth.RoleEmployee, time.Now(), time.Now(),
		)
	}))

	_, err := env.users.CreateUser(ctx, adminSession("c1"), &UserCreateRequest{Email: "race@corp.io", Role: auth.RoleEmployee})
	assert.True(t, inserted)
	assert.ErrorIs(t, err, ErrEmailExists)
	var se *StoreError
	assert.False(t, errors.As(err, &se))
}

func TestUserService_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := adminSession("c1")

	_, err := env.users.CreateUser(ctx, employeeSession("c1"), &UserCreateRequest{Email: "a@b.io", Role: auth.RoleEmployee})
	assert.ErrorIs(t, err, auth.ErrForbidden)

	var ve *ValidationError
	_, err = env.users.CreateUser(ctx, admin, &UserCreateRequest{Email: "not-an-email", Role: auth.RoleEmployee})
	require.ErrorAs(t, err, &ve)
	_, err = env.users.CreateUser(ctx, admin, &UserCreateRequest{Email: "a@b.io", Role: "CEO"})
	require.ErrorAs(t, err, &ve)

	_, err = env.users.CreateUser(ctx, admin, &UserCreateRequest{Email: "a@b.io", Role: auth.RoleEmployee})
	require.NoError(t, err)
	_, err = env.users.CreateUser(ctx, adminSession("c2"), &UserCreateRequest{Email: "A@b.io", Role: auth.RoleEmployee})
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestUserService_AutomationFailureDoesNotFailCreate(t *testing.T) {
	env := newTestEnv(t)
	env.automation.SetRuleStore(failingRuleStore{err: assert.AnError})

	user, err := env.users.CreateUser(context.Background(), adminSession("c1"), &UserCreateRequest{Email: "x@y.io", Role: auth.RoleHRUser})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
}
