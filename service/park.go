/*
Package service is the controller between the HTTP layer and the ledger.

PURPOSE:
  Every user-visible operation lands here. The Park looks up the entities it
  needs inside one repository mutation, runs the pure ledger function, and
  reports the outcome to the cue player, the metrics recorder and the log.

REQUEST FLOW:
  1. Validate input that the ledger does not (icons, theme ids)
  2. repository.Mutate: read collections, run points.Engine, set results
  3. Play the cue and record metrics for the outcome
  4. Return the updated entity, or a typed error from points/

ADMIN GATE:
  VerifyAdmin compares a password against the configured shared secret. The
  API asks it before rename/delete of a user and every catalog edit. It is a
  confirmation step, not access control.

SEE ALSO:
  - points/: Ledger operations and error values
  - repository/: Mutate and Snapshot
  - api/: HTTP handlers calling the Park
*/
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/warp/points-park/advice"
	"github.com/warp/points-park/catalog"
	"github.com/warp/points-park/cue"
	"github.com/warp/points-park/icon"
	"github.com/warp/points-park/metrics"
	"github.com/warp/points-park/points"
	"github.com/warp/points-park/repository"
)

// =============================================================================
// PARK
// =============================================================================

// Park dispatches ledger operations against the repository.
type Park struct {
	repo   *repository.Repository
	engine *points.Engine
	advice *advice.Service
	cues   cue.Player
	rec    metrics.Recorder
	log    *zap.Logger

	adminPassword string
}

// Option configures a Park.
type Option func(*Park)

func WithEngine(e *points.Engine) Option {
	return func(p *Park) { p.engine = e }
}

func WithAdvice(a *advice.Service) Option {
	return func(p *Park) { p.advice = a }
}

func WithCues(c cue.Player) Option {
	return func(p *Park) { p.cues = c }
}

func WithRecorder(rec metrics.Recorder) Option {
	return func(p *Park) { p.rec = rec }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Park) { p.log = l }
}

// WithAdminPassword sets the shared secret checked by VerifyAdmin.
func WithAdminPassword(pw string) Option {
	return func(p *Park) { p.adminPassword = pw }
}

// New creates a Park over an opened repository.
func New(repo *repository.Repository, opts ...Option) *Park {
	p := &Park{
		repo:   repo,
		engine: points.NewEngine(),
		advice: advice.NewService(nil),
		cues:   cue.Nop{},
		rec:    metrics.Nop{},
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ready reports whether the repository finished loading.
func (p *Park) Ready() bool {
	return p.repo.State() == repository.Ready
}

// Degraded reports whether the park runs without durable storage.
func (p *Park) Degraded() bool {
	return p.repo.Degraded()
}

// =============================================================================
// READS
// =============================================================================

// State returns all four collections.
func (p *Park) State() (repository.Snapshot, error) {
	return p.repo.Snapshot()
}

// Users returns every participant in stored order.
func (p *Park) Users() ([]points.User, error) {
	snap, err := p.repo.Snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Users, nil
}

// User returns one participant.
func (p *Park) User(id string) (points.User, error) {
	snap, err := p.repo.Snapshot()
	if err != nil {
		return points.User{}, err
	}
	u, ok := points.FindUser(snap.Users, id)
	if !ok {
		return points.User{}, fmt.Errorf("%w: %s", points.ErrUserNotFound, id)
	}
	return u, nil
}

// Leaderboard returns participants by points, highest first.
func (p *Park) Leaderboard() ([]points.User, error) {
	snap, err := p.repo.Snapshot()
	if err != nil {
		return nil, err
	}
	return points.Leaderboard(snap.Users), nil
}

// Actions returns the point rules.
func (p *Park) Actions() ([]points.PointAction, error) {
	snap, err := p.repo.Snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Actions, nil
}

// ShopItems returns the shop.
func (p *Park) ShopItems() ([]points.ShopItem, error) {
	snap, err := p.repo.Snapshot()
	if err != nil {
		return nil, err
	}
	return snap.ShopItems, nil
}

// =============================================================================
// LEDGER
// =============================================================================

// ActionResult is the outcome of applying a rule.
type ActionResult struct {
	User   points.User
	Action points.PointAction
	Cue    cue.Cue
}

// ApplyAction applies the rule actionID to the participant userID. A
// deduction larger than the balance floors it at zero.
func (p *Park) ApplyAction(ctx context.Context, userID, actionID string) (ActionResult, error) {
	var res ActionResult
	err := p.repo.Mutate(ctx, func(tx *repository.Tx) error {
		action, ok := points.FindAction(tx.Actions(), actionID)
		if !ok {
			return fmt.Errorf("%w: %s", points.ErrActionNotFound, actionID)
		}
		users, user, err := p.engine.ApplyActionTo(tx.Users(), userID, action)
		if err != nil {
			return err
		}
		tx.SetUsers(users)
		res = ActionResult{User: user, Action: action, Cue: cue.ForAction(action.Type)}
		return nil
	})
	if err != nil {
		return ActionResult{}, err
	}

	p.cues.Play(res.Cue)
	p.rec.RecordActionApplied(string(res.Action.Type))
	p.log.Info("action applied",
		zap.String("user_id", userID),
		zap.String("action_id", actionID),
		zap.Int("delta", res.Action.Delta()),
		zap.Int("balance", res.User.Points))
	return res, nil
}

// PurchaseResult is the outcome of a successful purchase.
type PurchaseResult struct {
	User points.User
	Item points.ShopItem
	Cue  cue.Cue
}

// Purchase buys itemID for userID. A refusal returns a *points.PurchaseError
// and changes nothing; the fail cue still plays.
func (p *Park) Purchase(ctx context.Context, userID, itemID string) (PurchaseResult, error) {
	var res PurchaseResult
	err := p.repo.Mutate(ctx, func(tx *repository.Tx) error {
		users, items, err := p.engine.PurchaseFrom(tx.Users(), tx.ShopItems(), userID, itemID)
		if err != nil {
			return err
		}
		tx.SetUsers(users)
		tx.SetShopItems(items)

		res.User, _ = points.FindUser(users, userID)
		for _, it := range items {
			if it.ID == itemID {
				res.Item = it
			}
		}
		res.Cue = cue.Magic
		return nil
	})

	var refusal *points.PurchaseError
	switch {
	case errors.As(err, &refusal):
		p.cues.Play(cue.Fail)
		p.rec.RecordPurchase(string(refusal.Reason))
		p.log.Info("purchase refused",
			zap.String("user_id", userID),
			zap.String("item_id", itemID),
			zap.String("reason", string(refusal.Reason)))
		return PurchaseResult{}, err
	case err != nil:
		return PurchaseResult{}, err
	}

	p.cues.Play(res.Cue)
	p.rec.RecordPurchase(metrics.ResultOK)
	p.log.Info("purchase completed",
		zap.String("user_id", userID),
		zap.String("item_id", itemID),
		zap.Int("balance", res.User.Points),
		zap.Int("stock", res.Item.Stock))
	return res, nil
}

// =============================================================================
// PARTICIPANTS
// =============================================================================

// CreateUser adds a participant with zero points. An empty avatar gets the
// seeded default.
func (p *Park) CreateUser(ctx context.Context, name, avatar string) (points.User, error) {
	if avatar != "" {
		if err := icon.Validate("avatar", avatar); err != nil {
			return points.User{}, err
		}
	}

	var created points.User
	err := p.repo.Mutate(ctx, func(tx *repository.Tx) error {
		u, err := p.engine.CreateUser(name, avatar)
		if err != nil {
			return err
		}
		tx.SetUsers(append(slices.Clone(tx.Users()), u))
		created = u
		return nil
	})
	if err != nil {
		return points.User{}, err
	}

	p.log.Info("user created", zap.String("user_id", created.ID), zap.String("name", created.Name))
	return created, nil
}

// RenameUser changes a participant's name.
func (p *Park) RenameUser(ctx context.Context, id, name string) (points.User, error) {
	var renamed points.User
	err := p.repo.Mutate(ctx, func(tx *repository.Tx) error {
		users, err := points.RenameUser(tx.Users(), id, name)
		if err != nil {
			return err
		}
		tx.SetUsers(users)
		renamed, _ = points.FindUser(users, id)
		return nil
	})
	return renamed, err
}

// DeleteUser removes a participant.
func (p *Park) DeleteUser(ctx context.Context, id string) error {
	err := p.repo.Mutate(ctx, func(tx *repository.Tx) error {
		users, err := points.DeleteUser(tx.Users(), id)
		if err != nil {
			return err
		}
		tx.SetUsers(users)
		return nil
	})
	if err == nil {
		p.log.Info("user deleted", zap.String("user_id", id))
	}
	return err
}

// =============================================================================
// CATALOG
// =============================================================================

// UpsertAction creates or replaces a point rule.
func (p *Park) UpsertAction(ctx context.Context, a points.PointAction) (points.PointAction, error) {
	if err := icon.Validate("icon", a.Icon); err != nil {
		return points.PointAction{}, err
	}

	var saved points.PointAction
	err := p.repo.Mutate(ctx, func(tx *repository.Tx) error {
		actions, stored, err := p.engine.UpsertAction(tx.Actions(), a)
		if err != nil {
			return err
		}
		tx.SetActions(actions)
		saved = stored
		return nil
	})
	return saved, err
}

// DeleteAction removes a point rule. Histories keep their snapshot of it.
func (p *Park) DeleteAction(ctx context.Context, id string) error {
	return p.repo.Mutate(ctx, func(tx *repository.Tx) error {
		actions, err := points.DeleteAction(tx.Actions(), id)
		if err != nil {
			return err
		}
		tx.SetActions(actions)
		return nil
	})
}

// UpsertShopItem creates, replaces or restocks a shop item.
func (p *Park) UpsertShopItem(ctx context.Context, s points.ShopItem) (points.ShopItem, error) {
	if err := icon.Validate("icon", s.Icon); err != nil {
		return points.ShopItem{}, err
	}

	var saved points.ShopItem
	err := p.repo.Mutate(ctx, func(tx *repository.Tx) error {
		items, stored, err := p.engine.UpsertShopItem(tx.ShopItems(), s)
		if err != nil {
			return err
		}
		tx.SetShopItems(items)
		saved = stored
		return nil
	})
	return saved, err
}

// DeleteShopItem removes a shop item.
func (p *Park) DeleteShopItem(ctx context.Context, id string) error {
	return p.repo.Mutate(ctx, func(tx *repository.Tx) error {
		items, err := points.DeleteShopItem(tx.ShopItems(), id)
		if err != nil {
			return err
		}
		tx.SetShopItems(items)
		return nil
	})
}

// =============================================================================
// THEME
// =============================================================================

// Themes returns every theme and the active one's id.
func (p *Park) Themes() ([]catalog.Theme, string, error) {
	snap, err := p.repo.Snapshot()
	if err != nil {
		return nil, "", err
	}
	return catalog.Themes(), snap.ThemeID, nil
}

// SetTheme selects a theme. Unlike a stored id, an explicitly requested
// unknown id is rejected.
func (p *Park) SetTheme(ctx context.Context, id string) (catalog.Theme, error) {
	theme, ok := catalog.LookupTheme(id)
	if !ok {
		return catalog.Theme{}, &points.ValidationError{Field: "id", Message: fmt.Sprintf("unknown theme %q", id)}
	}
	err := p.repo.Mutate(ctx, func(tx *repository.Tx) error {
		tx.SetThemeID(theme.ID)
		return nil
	})
	return theme, err
}

// =============================================================================
// ADVICE
// =============================================================================

// Advice returns a line of encouragement for a participant. Only an unknown
// participant is an error; model failures produce the fallback text.
func (p *Park) Advice(ctx context.Context, userID string) (string, error) {
	u, err := p.User(userID)
	if err != nil {
		return "", err
	}
	return p.advice.Advice(ctx, u.Points, u.Name), nil
}

// Suggest proposes a new rule or shop item, or nil when none is available.
func (p *Park) Suggest(ctx context.Context, kind advice.Kind) *advice.Suggestion {
	return p.advice.Suggest(ctx, kind)
}

// =============================================================================
// ADMIN
// =============================================================================

// VerifyAdmin reports whether password matches the shared secret. A mismatch
// plays the fail cue.
func (p *Park) VerifyAdmin(password string) bool {
	ok := p.adminPassword != "" &&
		subtle.ConstantTimeCompare([]byte(password), []byte(p.adminPassword)) == 1
	if !ok {
		p.cues.Play(cue.Fail)
		p.log.Debug("admin password rejected")
	}
	return ok
}
