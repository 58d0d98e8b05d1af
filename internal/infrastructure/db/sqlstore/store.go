package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/importauto/leadline/internal/core/domain"
	"github.com/importauto/leadline/internal/core/ports"
)

// Store implements ports.ConversationStore.
type Store struct {
	db *gorm.DB
}

var _ ports.ConversationStore = (*Store)(nil)

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Converse runs fn against the locked client row and commits its exchange.
// A first message racing another first message for the same identifier loses
// the insert and retries against the winner's row.
func (s *Store) Converse(ctx context.Context, identifier, name string, fn ports.ExchangeFunc) (domain.Client, error) {
	var (
		out   domain.Client
		fnErr error
		err   error
	)
	for attempt := 0; attempt < 2; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			row, err := lockOrCreate(tx, identifier, name)
			if err != nil {
				return err
			}

			ex, err := fn(row.toDomain())
			if err != nil {
				fnErr = err
				return err
			}

			if err := applyUpdate(tx, &row, ex.Update); err != nil {
				return err
			}
			if err := insertMessages(tx, row.ID, ex.Messages); err != nil {
				return err
			}
			out = row.toDomain()
			return nil
		})
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
	}
	if fnErr != nil {
		return domain.Client{}, fnErr
	}
	if err != nil {
		return domain.Client{}, unavailable("converse", err)
	}
	return out, nil
}

func lockOrCreate(tx *gorm.DB, identifier, name string) (clientRow, error) {
	var row clientRow
	res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("identifier = ?", identifier).
		Limit(1).
		Find(&row)
	if res.Error != nil {
		return clientRow{}, res.Error
	}
	if res.RowsAffected > 0 {
		return row, nil
	}

	row = clientRow{
		Identifier: identifier,
		Name:       name,
		DialogStep: string(domain.StepStart),
		Status:     string(domain.StatusNew),
	}
	if err := tx.Create(&row).Error; err != nil {
		return clientRow{}, err
	}
	return row, nil
}

func applyUpdate(tx *gorm.DB, row *clientRow, u domain.ClientUpdate) error {
	if u.Empty() {
		return nil
	}
	fields := map[string]interface{}{}
	if u.DialogStep != nil {
		row.DialogStep = string(*u.DialogStep)
		row.Status = string(u.DialogStep.Status())
		fields["dialog_step"] = row.DialogStep
		fields["status"] = row.Status
	}
	if u.Budget != nil {
		v := *u.Budget
		row.Budget = &v
		fields["budget"] = v
	}
	if u.CarType != nil {
		v := *u.CarType
		row.CarType = &v
		fields["car_type"] = v
	}
	return tx.Model(row).Updates(fields).Error
}

func insertMessages(tx *gorm.DB, clientID uint, msgs []domain.Message) error {
	// One insert per message keeps ids in append order.
	for _, m := range msgs {
		r := newMessageRow(clientID, m)
		if err := tx.Create(&r).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) FindClient(ctx context.Context, identifier string) (domain.Client, error) {
	row, err := findClient(s.db.WithContext(ctx), identifier, false)
	if err != nil {
		return domain.Client{}, err
	}
	return row.toDomain(), nil
}

func findClient(tx *gorm.DB, identifier string, lock bool) (clientRow, error) {
	q := tx
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row clientRow
	res := q.Where("identifier = ?", identifier).Limit(1).Find(&row)
	if res.Error != nil {
		return clientRow{}, unavailable("find client", res.Error)
	}
	if res.RowsAffected == 0 {
		return clientRow{}, domain.ErrClientNotFound
	}
	return row, nil
}

// RecentClients lists the newest clients by creation, most recent first.
func (s *Store) RecentClients(ctx context.Context, limit int) ([]domain.Client, error) {
	var rows []clientRow
	if err := s.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, unavailable("recent clients", err)
	}
	out := make([]domain.Client, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) History(ctx context.Context, identifier string, limit int) ([]domain.Message, error) {
	db := s.db.WithContext(ctx)
	row, err := findClient(db, identifier, false)
	if err != nil {
		return nil, err
	}
	var rows []messageRow
	if err := db.Where("client_id = ?", row.ID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, unavailable("history", err)
	}
	out := make([]domain.Message, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) AppendMessage(ctx context.Context, clientID uint, msg domain.Message) error {
	r := newMessageRow(clientID, msg)
	if err := s.db.WithContext(ctx).Create(&r).Error; err != nil {
		return unavailable("append message", err)
	}
	return nil
}

// Takeover hands identifier to the operator and clears every other managed
// row. Takeovers queue on the hand-off lock row, so at most one client is
// managed whatever isolation level the server runs.
func (s *Store) Takeover(ctx context.Context, identifier string) (domain.Client, error) {
	var out domain.Client
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockHandoff(tx); err != nil {
			return err
		}
		row, err := findClient(tx, identifier, true)
		if err != nil {
			return err
		}
		if err := tx.Model(&clientRow{}).
			Where("managed_by_operator = ? AND id <> ?", true, row.ID).
			Update("managed_by_operator", false).Error; err != nil {
			return unavailable("takeover", err)
		}
		if err := tx.Model(&row).Update("managed_by_operator", true).Error; err != nil {
			return unavailable("takeover", err)
		}
		out = row.toDomain()
		return nil
	})
	if err != nil {
		return domain.Client{}, passThrough("takeover", err)
	}
	return out, nil
}

func lockHandoff(tx *gorm.DB) error {
	var lock handoffLockRow
	res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", handoffLockID).
		Limit(1).
		Find(&lock)
	if res.Error != nil {
		return unavailable("hand-off lock", res.Error)
	}
	if res.RowsAffected == 0 {
		return unavailable("hand-off lock", errors.New("lock row missing, run migrate"))
	}
	return nil
}

func (s *Store) Release(ctx context.Context, identifier string) (domain.Client, error) {
	var out domain.Client
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := findClient(tx, identifier, true)
		if err != nil {
			return err
		}
		fields := map[string]interface{}{"managed_by_operator": false}
		row.ManagedByOperator = false
		if domain.DialogStep(row.DialogStep) == domain.StepDone {
			row.DialogStep = string(domain.StepStart)
			row.Status = string(domain.StatusNew)
			row.Budget = nil
			row.CarType = nil
			fields["dialog_step"] = row.DialogStep
			fields["status"] = row.Status
			fields["budget"] = nil
			fields["car_type"] = nil
		}
		if err := tx.Model(&row).Updates(fields).Error; err != nil {
			return unavailable("release", err)
		}
		out = row.toDomain()
		return nil
	})
	if err != nil {
		return domain.Client{}, passThrough("release", err)
	}
	return out, nil
}

func (s *Store) ManagedClient(ctx context.Context) (domain.Client, error) {
	var row clientRow
	res := s.db.WithContext(ctx).
		Where("managed_by_operator = ?", true).
		Order("updated_at DESC").
		Limit(1).
		Find(&row)
	if res.Error != nil {
		return domain.Client{}, unavailable("managed client", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.Client{}, domain.ErrNoActiveChat
	}
	return row.toDomain(), nil
}

func (s *Store) Stats(ctx context.Context) (domain.ClientStats, error) {
	type bucket struct {
		Status string
		Total  int64
	}
	var buckets []bucket
	db := s.db.WithContext(ctx)
	if err := db.Model(&clientRow{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&buckets).Error; err != nil {
		return domain.ClientStats{}, unavailable("stats", err)
	}
	stats := domain.ClientStats{ByStatus: map[domain.ClientStatus]int64{
		domain.StatusNew:        0,
		domain.StatusInProgress: 0,
		domain.StatusCompleted:  0,
	}}
	for _, b := range buckets {
		stats.ByStatus[domain.ClientStatus(b.Status)] = b.Total
	}
	if err := db.Model(&clientRow{}).
		Where("managed_by_operator = ?", true).
		Count(&stats.Managed).Error; err != nil {
		return domain.ClientStats{}, unavailable("stats", err)
	}
	return stats, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return unavailable("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}

// passThrough keeps domain outcomes intact and wraps everything else.
func passThrough(op string, err error) error {
	if errors.Is(err, domain.ErrClientNotFound) || errors.Is(err, domain.ErrNoActiveChat) {
		return err
	}
	return unavailable(op, err)
}
