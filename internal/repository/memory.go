package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/storefront/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Все операции
// сериализуются одним мьютексом, транзакции применяются целиком.
type MemoryRepository struct {
	mu sync.Mutex

	users        map[int64]*model.User
	usersByLogin map[string]int64
	nextUserID   int64

	products  map[string]*model.Product
	orders    map[string]*model.Order
	numbers   map[string]string
	sequences map[string]int64

	events      []model.Event
	dead        []model.Event
	nextEventID int64
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:        make(map[int64]*model.User),
		usersByLogin: make(map[string]int64),
		products:     make(map[string]*model.Product),
		orders:       make(map[string]*model.Order),
		numbers:      make(map[string]string),
		sequences:    make(map[string]int64),
	}
}

// Close ничего не освобождает и нужен для совместимости с PostgresRepository.
func (r *MemoryRepository) Close() error { return nil }

// CreateUser создаёт нового пользователя.
func (r *MemoryRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, name, phone string, isAdmin bool) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.usersByLogin[login]; ok {
		return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
	}
	r.nextUserID++
	u := &model.User{
		ID:           r.nextUserID,
		Login:        login,
		PasswordHash: append([]byte(nil), passwordHash...),
		Name:         name,
		Phone:        phone,
		IsAdmin:      isAdmin,
		CreatedAt:    time.Now().UTC(),
	}
	r.users[u.ID] = u
	r.usersByLogin[login] = u.ID
	return u.ID, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *MemoryRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.usersByLogin[login]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := *r.users[id]
	return &u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *MemoryRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	c := *u
	return &c, nil
}

// GetUsers возвращает пользователей по списку идентификаторов.
func (r *MemoryRepository) GetUsers(ctx context.Context, ids []int64) (map[int64]model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := make(map[int64]model.User, len(ids))
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			res[id] = *u
		}
	}
	return res, nil
}

// BackfillUserPhone сохраняет телефон пользователя, только если он ещё не указан.
func (r *MemoryRepository) BackfillUserPhone(ctx context.Context, id int64, phone string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return false, ErrUserNotFound
	}
	if u.Phone != "" {
		return false, nil
	}
	u.Phone = phone
	return true, nil
}

// GetProduct возвращает товар каталога.
func (r *MemoryRepository) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return nil, model.NotFound("product", id)
	}
	c := *p
	return &c, nil
}

// GetProducts возвращает найденные товары по списку идентификаторов.
func (r *MemoryRepository) GetProducts(ctx context.Context, ids []string) (map[string]model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := make(map[string]model.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			res[id] = *p
		}
	}
	return res, nil
}

// UpsertProduct создаёт или заменяет карточку товара.
func (r *MemoryRepository) UpsertProduct(ctx context.Context, p model.Product) (*model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p.UpdatedAt = time.Now().UTC()
	r.products[p.ID] = &p
	c := p
	return &c, nil
}

// ReserveStock атомарно уменьшает остаток товара.
func (r *MemoryRepository) ReserveStock(ctx context.Context, productID string, quantity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.adjustStock(productID, -quantity)
}

// ReleaseStock атомарно возвращает товар на склад.
func (r *MemoryRepository) ReleaseStock(ctx context.Context, productID string, quantity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.adjustStock(productID, quantity)
}

// adjustStock вызывается под мьютексом.
func (r *MemoryRepository) adjustStock(productID string, delta int) error {
	p, ok := r.products[productID]
	if !ok {
		return model.ProductNotFound(productID)
	}
	if p.Stock+delta < 0 {
		return model.InsufficientStock(productID, p.Stock)
	}
	p.Stock += delta
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// NextSequence возвращает следующий номер в периоде.
func (r *MemoryRepository) NextSequence(ctx context.Context, period string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sequences[period]++
	return r.sequences[period], nil
}

// WithinTx выполняет fn под общим мьютексом и применяет изменения, только
// если fn завершилась без ошибки. Внутри fn нельзя вызывать методы самого
// репозитория, только методы tx.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn TxFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memTx{
		repo:    r,
		stock:   make(map[string]int),
		updated: make(map[string]*model.Order),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.apply()
	return nil
}

type memTx struct {
	repo    *MemoryRepository
	stock   map[string]int
	created []*model.Order
	updated map[string]*model.Order
	events  []model.Event
}

func (t *memTx) adjust(productID string, delta int) error {
	p, ok := t.repo.products[productID]
	if !ok {
		return model.ProductNotFound(productID)
	}
	current := p.Stock + t.stock[productID]
	if current+delta < 0 {
		return model.InsufficientStock(productID, current)
	}
	t.stock[productID] += delta
	return nil
}

func (t *memTx) ReserveStock(ctx context.Context, productID string, quantity int) error {
	return t.adjust(productID, -quantity)
}

func (t *memTx) ReleaseStock(ctx context.Context, productID string, quantity int) error {
	return t.adjust(productID, quantity)
}

func (t *memTx) InsertOrder(ctx context.Context, o *model.Order) error {
	if _, ok := t.repo.numbers[o.OrderNumber]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, o.OrderNumber)
	}
	for _, c := range t.created {
		if c.OrderNumber == o.OrderNumber {
			return fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, o.OrderNumber)
		}
	}
	t.created = append(t.created, o.Clone())
	return nil
}

func (t *memTx) GetOrderForUpdate(ctx context.Context, id string) (*model.Order, error) {
	if o, ok := t.updated[id]; ok {
		return o.Clone(), nil
	}
	o, ok := t.repo.orders[id]
	if !ok {
		return nil, model.NotFound("order", id)
	}
	return o.Clone(), nil
}

func (t *memTx) UpdateOrderState(ctx context.Context, o *model.Order) error {
	cur, ok := t.repo.orders[o.ID]
	if !ok {
		return model.NotFound("order", o.ID)
	}
	next := cur.Clone()
	next.OrderStatus = o.OrderStatus
	next.PaymentStatus = o.PaymentStatus
	next.Notes = o.Notes
	next.DeliveredAt = o.Clone().DeliveredAt
	next.UpdatedAt = o.UpdatedAt
	t.updated[o.ID] = next
	return nil
}

func (t *memTx) AddEvent(ctx context.Context, e model.Event) error {
	t.events = append(t.events, e)
	return nil
}

// apply вызывается под мьютексом репозитория.
func (t *memTx) apply() {
	r := t.repo
	now := time.Now().UTC()
	for id, delta := range t.stock {
		p := r.products[id]
		p.Stock += delta
		p.UpdatedAt = now
	}
	for _, o := range t.created {
		r.orders[o.ID] = o
		r.numbers[o.OrderNumber] = o.ID
	}
	for id, o := range t.updated {
		r.orders[id] = o
	}
	for _, e := range t.events {
		r.nextEventID++
		e.ID = r.nextEventID
		r.events = append(r.events, e)
	}
}

// GetOrder возвращает заказ по внутреннему идентификатору.
func (r *MemoryRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, model.NotFound("order", id)
	}
	return o.Clone(), nil
}

// GetOrderByNumber возвращает заказ по номеру.
func (r *MemoryRepository) GetOrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.numbers[number]
	if !ok {
		return nil, model.NotFound("order", number)
	}
	return r.orders[id].Clone(), nil
}

// ListOrders возвращает страницу заказов, подходящих под фильтр, и их общее число.
func (r *MemoryRepository) ListOrders(ctx context.Context, f model.OrderFilter, limit, offset int) ([]model.Order, int, error) {
	limit, offset = model.NormalizePage(limit, offset)

	r.mu.Lock()
	var matched []*model.Order
	for _, o := range r.orders {
		if f.Match(o) {
			matched = append(matched, o.Clone())
		}
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	res := make([]model.Order, 0, end-offset)
	for _, o := range matched[offset:end] {
		res = append(res, *o)
	}
	return res, total, nil
}

// ListOrdersInRange возвращает заказы, созданные в [start, end), по возрастанию даты.
func (r *MemoryRepository) ListOrdersInRange(ctx context.Context, start, end *time.Time) ([]model.Order, error) {
	r.mu.Lock()
	var res []model.Order
	for _, o := range r.orders {
		if start != nil && o.CreatedAt.Before(*start) {
			continue
		}
		if end != nil && !o.CreatedAt.Before(*end) {
			continue
		}
		res = append(res, *o.Clone())
	}
	r.mu.Unlock()

	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

// FetchPendingEvents возвращает неотправленные события в порядке записи.
func (r *MemoryRepository) FetchPendingEvents(ctx context.Context, limit int) ([]model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.events)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]model.Event(nil), r.events[:n]...), nil
}

// MarkEventSent удаляет доставленное событие из очереди.
func (r *MemoryRepository) MarkEventSent(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.events {
		if e.ID == id {
			r.events = append(r.events[:i], r.events[i+1:]...)
			return nil
		}
	}
	return nil
}

// RecordEventFailure учитывает неудачную попытку доставки. Событие, набравшее
// maxAttempts попыток, переносится из очереди в список мёртвых.
func (r *MemoryRepository) RecordEventFailure(ctx context.Context, id int64, reason string, maxAttempts int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.events {
		if r.events[i].ID != id {
			continue
		}
		r.events[i].Attempts++
		if r.events[i].Attempts < maxAttempts {
			return false, nil
		}
		r.dead = append(r.dead, r.events[i])
		r.events = append(r.events[:i], r.events[i+1:]...)
		return true, nil
	}
	return false, nil
}
