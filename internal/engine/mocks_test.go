package engine

import (
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/expenseflow/approval-engine/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// In-memory fakes mirroring the repositories' conditional-update semantics,
// so engine tests exercise the real state machine paths without a database.

type memDB struct{}

func (memDB) WithTransaction(fn func(*sql.Tx) error) error { return fn(nil) }

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type memState struct {
	expenses      map[int64]*models.Expense
	workflows     []*models.Workflow
	rules         []*models.Rule
	tasks         []*models.ApprovalTask
	history       []*models.HistoryEntry
	users         map[int64]*models.User
	companies     map[int64]*models.Company
	nextTaskID    int64
	nextHistoryID int64
}

func newMemState() *memState {
	return &memState{
		expenses:  make(map[int64]*models.Expense),
		users:     make(map[int64]*models.User),
		companies: make(map[int64]*models.Company),
	}
}

type memExpenses struct{ s *memState }

func (m *memExpenses) GetByID(_ *sql.Tx, id int64) (*models.Expense, error) {
	e, ok := m.s.expenses[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *memExpenses) BeginApproval(_ *sql.Tx, id, workflowID int64, step int, amountCCY, rate decimal.Decimal, now time.Time) (bool, error) {
	e, ok := m.s.expenses[id]
	if !ok || e.Status != models.StatusDraft {
		return false, nil
	}
	e.Status = models.StatusInApproval
	e.WorkflowID = &workflowID
	e.CurrentStep = step
	e.AmountCompanyCCY = amountCCY
	e.ExchangeRate = rate
	e.SubmittedAt = &now
	return true, nil
}

func (m *memExpenses) MarkApproved(_ *sql.Tx, id int64, workflowID *int64, now time.Time) (bool, error) {
	e, ok := m.s.expenses[id]
	if !ok {
		return false, nil
	}
	switch e.Status {
	case models.StatusDraft, models.StatusSubmitted, models.StatusInApproval:
	default:
		return false, nil
	}
	e.Status = models.StatusApproved
	e.ApprovedAt = &now
	if e.WorkflowID == nil {
		e.WorkflowID = workflowID
	}
	if e.SubmittedAt == nil {
		e.SubmittedAt = &now
	}
	return true, nil
}

func (m *memExpenses) MarkRejected(_ *sql.Tx, id int64, reason string, now time.Time) (bool, error) {
	e, ok := m.s.expenses[id]
	if !ok || e.Status != models.StatusInApproval {
		return false, nil
	}
	e.Status = models.StatusRejected
	e.RejectionReason = reason
	e.RejectedAt = &now
	return true, nil
}

func (m *memExpenses) SetCurrentStep(_ *sql.Tx, id int64, step int, now time.Time) error {
	e, ok := m.s.expenses[id]
	if !ok {
		return errors.New("expense not found")
	}
	e.CurrentStep = step
	return nil
}

type memWorkflows struct{ s *memState }

func (m *memWorkflows) ActiveByCompany(companyID int64) ([]*models.Workflow, error) {
	var out []*models.Workflow
	for _, wf := range m.s.workflows {
		if wf.CompanyID == companyID && wf.IsActive {
			out = append(out, wf)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *memWorkflows) GetByID(id int64) (*models.Workflow, error) {
	for _, wf := range m.s.workflows {
		if wf.ID == id {
			return wf, nil
		}
	}
	return nil, nil
}

type memRules struct{ s *memState }

func (m *memRules) ActiveForWorkflow(companyID, workflowID int64) ([]*models.Rule, error) {
	var out []*models.Rule
	for _, r := range m.s.rules {
		if r.CompanyID != companyID || !r.IsActive {
			continue
		}
		if r.WorkflowID != nil && *r.WorkflowID != workflowID {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

type memTasks struct{ s *memState }

func (m *memTasks) Create(_ *sql.Tx, t *models.ApprovalTask) error {
	m.s.nextTaskID++
	t.ID = m.s.nextTaskID
	cp := *t
	m.s.tasks = append(m.s.tasks, &cp)
	return nil
}

func (m *memTasks) find(id int64) *models.ApprovalTask {
	for _, t := range m.s.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (m *memTasks) GetByID(_ *sql.Tx, id int64) (*models.ApprovalTask, error) {
	t := m.find(id)
	if t == nil {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *memTasks) Decide(_ *sql.Tx, id int64, status, comments string, approvedAmount *decimal.Decimal, now time.Time) (bool, error) {
	t := m.find(id)
	if t == nil || t.Status != models.TaskPending {
		return false, nil
	}
	t.Status = status
	t.Comments = comments
	t.ApprovedAmount = approvedAmount
	t.DecidedAt = &now
	return true, nil
}

func (m *memTasks) Skip(_ *sql.Tx, id int64, reason string, now time.Time) (bool, error) {
	t := m.find(id)
	if t == nil || t.Status != models.TaskPending {
		return false, nil
	}
	t.Status = models.TaskSkipped
	t.Comments = reason
	t.DecidedAt = &now
	return true, nil
}

func (m *memTasks) SkipPendingForExpense(_ *sql.Tx, expenseID int64, reason string, now time.Time) (int64, error) {
	var n int64
	for _, t := range m.s.tasks {
		if t.ExpenseID == expenseID && t.Status == models.TaskPending {
			t.Status = models.TaskSkipped
			t.Comments = reason
			t.DecidedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *memTasks) CountPendingForStep(_ *sql.Tx, expenseID int64, stepNumber int) (int, error) {
	n := 0
	for _, t := range m.s.tasks {
		if t.ExpenseID == expenseID && t.StepNumber == stepNumber && t.Status == models.TaskPending {
			n++
		}
	}
	return n, nil
}

func (m *memTasks) ExistsForStep(_ *sql.Tx, expenseID int64, stepNumber int, approverID int64) (bool, error) {
	for _, t := range m.s.tasks {
		if t.ExpenseID == expenseID && t.StepNumber == stepNumber && t.ApproverID == approverID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memTasks) PendingForApprover(approverID int64, limit, offset int) ([]*models.ApprovalTask, error) {
	var out []*models.ApprovalTask
	for _, t := range m.s.tasks {
		if t.ApproverID == approverID && t.Status == models.TaskPending {
			cp := *t
			out = append(out, &cp)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memTasks) ByExpense(expenseID int64) ([]*models.ApprovalTask, error) {
	var out []*models.ApprovalTask
	for _, t := range m.s.tasks {
		if t.ExpenseID == expenseID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memTasks) PendingOlderThan(cutoff time.Time) ([]*models.ApprovalTask, error) {
	var out []*models.ApprovalTask
	for _, t := range m.s.tasks {
		if t.Status == models.TaskPending && t.CreatedAt.Before(cutoff) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memTasks) DueForReminder(cutoff time.Time) ([]*models.ApprovalTask, error) {
	var out []*models.ApprovalTask
	for _, t := range m.s.tasks {
		if t.Status != models.TaskPending || t.NotifiedAt == nil || !t.NotifiedAt.Before(cutoff) {
			continue
		}
		if t.RemindedAt != nil && !t.RemindedAt.Before(cutoff) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memTasks) MarkNotified(_ *sql.Tx, id int64, now time.Time) error {
	if t := m.find(id); t != nil {
		t.NotifiedAt = &now
	}
	return nil
}

func (m *memTasks) MarkReminded(_ *sql.Tx, id int64, now time.Time) error {
	if t := m.find(id); t != nil {
		t.RemindedAt = &now
	}
	return nil
}

type memHistory struct{ s *memState }

func (m *memHistory) Create(_ *sql.Tx, h *models.HistoryEntry) error {
	m.s.nextHistoryID++
	h.ID = m.s.nextHistoryID
	cp := *h
	m.s.history = append(m.s.history, &cp)
	return nil
}

func (m *memHistory) ByExpense(expenseID int64) ([]*models.HistoryEntry, error) {
	var out []*models.HistoryEntry
	for _, h := range m.s.history {
		if h.ExpenseID == expenseID {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeDirectory struct{ s *memState }

func (d *fakeDirectory) GetUser(userID int64) (*models.User, error) {
	u, ok := d.s.users[userID]
	if !ok {
		return nil, nil
	}
	return u, nil
}

func (d *fakeDirectory) GetManager(userID int64) (*models.User, error) {
	u, ok := d.s.users[userID]
	if !ok || u.ManagerID == nil {
		return nil, nil
	}
	mgr, ok := d.s.users[*u.ManagerID]
	if !ok || !mgr.IsActive {
		return nil, nil
	}
	return mgr, nil
}

func (d *fakeDirectory) GetUsersByRole(companyID int64, role string) ([]*models.User, error) {
	var out []*models.User
	var ids []int64
	for id := range d.s.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		u := d.s.users[id]
		if u.CompanyID == companyID && u.Role == role && u.IsActive {
			out = append(out, u)
		}
	}
	return out, nil
}

func (d *fakeDirectory) GetDepartmentHead(companyID int64, department string) (*models.User, error) {
	users, _ := d.GetUsersByRole(companyID, models.RoleManager)
	for _, u := range users {
		if u.Department == department {
			return u, nil
		}
	}
	return nil, nil
}

func (d *fakeDirectory) GetActiveAdmin(companyID int64) (*models.User, error) {
	users, _ := d.GetUsersByRole(companyID, models.RoleAdmin)
	if len(users) == 0 {
		return nil, nil
	}
	return users[0], nil
}

func (d *fakeDirectory) GetCompany(companyID int64) (*models.Company, error) {
	c, ok := d.s.companies[companyID]
	if !ok {
		return nil, nil
	}
	return c, nil
}

type identityConverter struct{ err error }

func (c identityConverter) Normalize(amount decimal.Decimal, fromCurrency string, companyID int64) (decimal.Decimal, decimal.Decimal, error) {
	if c.err != nil {
		return amount, decimal.NewFromInt(1), c.err
	}
	return amount, decimal.NewFromInt(1), nil
}

type captureNotifier struct{ sent []*models.Notification }

func (n *captureNotifier) Notify(m *models.Notification) { n.sent = append(n.sent, m) }

func (n *captureNotifier) byKind(kind string) []*models.Notification {
	var out []*models.Notification
	for _, m := range n.sent {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// fixture wires an Engine over the in-memory fakes.
type fixture struct {
	state    *memState
	engine   *Engine
	clock    *fakeClock
	notifier *captureNotifier
	tasks    *memTasks
}

func newFixture(cfg Config) *fixture {
	if cfg.EscalationTimeout == 0 {
		cfg.EscalationTimeout = 48 * time.Hour
	}
	if cfg.ReminderWindow == 0 {
		cfg.ReminderWindow = 24 * time.Hour
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Minute
	}

	state := newMemState()
	clock := &fakeClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	notifier := &captureNotifier{}
	tasks := &memTasks{s: state}

	eng := New(
		Stores{
			DB:        memDB{},
			Expenses:  &memExpenses{s: state},
			Workflows: &memWorkflows{s: state},
			Rules:     &memRules{s: state},
			Tasks:     tasks,
			History:   &memHistory{s: state},
		},
		&fakeDirectory{s: state},
		identityConverter{},
		notifier,
		clock,
		zap.NewNop(),
		cfg,
	)

	return &fixture{state: state, engine: eng, clock: clock, notifier: notifier, tasks: tasks}
}

func (f *fixture) addUser(u *models.User) *models.User {
	f.state.users[u.ID] = u
	return u
}

func (f *fixture) addExpense(e *models.Expense) *models.Expense {
	if e.Status == "" {
		e.Status = models.StatusDraft
	}
	if e.Currency == "" {
		e.Currency = "USD"
	}
	e.CreatedAt = f.clock.now
	f.state.expenses[e.ID] = e
	return e
}

func (f *fixture) addWorkflow(w *models.Workflow) *models.Workflow {
	w.IsActive = true
	f.state.workflows = append(f.state.workflows, w)
	return w
}

func (f *fixture) addRule(r *models.Rule) *models.Rule {
	r.IsActive = true
	f.state.rules = append(f.state.rules, r)
	return r
}

func (f *fixture) pendingTasks(expenseID int64) []*models.ApprovalTask {
	var out []*models.ApprovalTask
	for _, t := range f.state.tasks {
		if t.ExpenseID == expenseID && t.Status == models.TaskPending {
			out = append(out, t)
		}
	}
	return out
}

func (f *fixture) historyActions(expenseID int64) []string {
	var out []string
	for _, h := range f.state.history {
		if h.ExpenseID == expenseID {
			out = append(out, h.Action)
		}
	}
	return out
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func ptr[T any](v T) *T { return &v }
