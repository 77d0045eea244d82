// Package service реализует бизнес-логику витрины: оформление, изменение и отмену заказов.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/inventory"
	"github.com/mmeshcher/storefront/internal/metrics"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/ordernumber"
	"github.com/mmeshcher/storefront/internal/report"
	"github.com/mmeshcher/storefront/internal/repository"
	"github.com/mmeshcher/storefront/internal/validation"
)

// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, login string, passwordHash []byte, name, phone string, isAdmin bool) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	BackfillUserPhone(ctx context.Context, id int64, phone string) (bool, error)

	GetProduct(ctx context.Context, id string) (*model.Product, error)
	GetProducts(ctx context.Context, ids []string) (map[string]model.Product, error)
	UpsertProduct(ctx context.Context, p model.Product) (*model.Product, error)

	inventory.Store
	ordernumber.Sequencer

	WithinTx(ctx context.Context, fn repository.TxFunc) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*model.Order, error)
	ListOrders(ctx context.Context, f model.OrderFilter, limit, offset int) ([]model.Order, int, error)

	FetchPendingEvents(ctx context.Context, limit int) ([]model.Event, error)
	MarkEventSent(ctx context.Context, id int64) error
	RecordEventFailure(ctx context.Context, id int64, reason string, maxAttempts int) (bool, error)
}

// Publisher доставляет событие внешнему получателю.
type Publisher interface {
	Publish(ctx context.Context, e model.Event) error
}

// Service содержит бизнес-логику витрины.
type Service struct {
	repo    Repository
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	seq     ordernumber.Sequencer
	numbers *ordernumber.Generator

	reports    report.Reader
	publishers []Publisher

	defaultCountry   string
	adminLogin       string
	dispatchInterval time.Duration
	maxEventAttempts int
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер сервиса.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics задаёт коллекторы метрик.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSequencer задаёт источник порядковых номеров заказов, отличный от репозитория.
func WithSequencer(seq ordernumber.Sequencer) Option {
	return func(s *Service) { s.seq = seq }
}

// WithReportReader задаёт источник данных для отчётов, например реплику.
func WithReportReader(r report.Reader) Option {
	return func(s *Service) { s.reports = r }
}

// WithPublishers задаёт получателей событий о заказах.
func WithPublishers(p ...Publisher) Option {
	return func(s *Service) { s.publishers = append(s.publishers, p...) }
}

// WithDefaultCountry задаёт страну доставки по умолчанию.
func WithDefaultCountry(country string) Option {
	return func(s *Service) { s.defaultCountry = country }
}

// WithAdminLogin задаёт логин, который при регистрации получает права администратора.
func WithAdminLogin(login string) Option {
	return func(s *Service) { s.adminLogin = login }
}

// WithDispatchInterval задаёт период опроса очереди событий.
func WithDispatchInterval(d time.Duration) Option {
	return func(s *Service) { s.dispatchInterval = d }
}

// WithMaxEventAttempts задаёт число попыток доставки события, после которого
// оно снимается с очереди. Значения меньше 1 игнорируются.
func WithMaxEventAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxEventAttempts = n
		}
	}
}

// NewService создаёт сервис поверх репозитория.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:             repo,
		logger:           zap.NewNop(),
		now:              time.Now,
		seq:              repo,
		defaultCountry:   model.DefaultCountry,
		dispatchInterval: time.Second,
		maxEventAttempts: defaultMaxEventAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reports == nil {
		if r, ok := repo.(report.Reader); ok {
			s.reports = r
		}
	}
	s.numbers = ordernumber.NewGenerator(s.seq, s.now)
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password, name, phone string) (int64, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return 0, model.Validationf("login and password are required")
	}

	isAdmin := s.adminLogin != "" && login == s.adminLogin
	id, err := s.repo.CreateUser(ctx, login, hashPassword(login, password), strings.TrimSpace(name), validation.NormalizePhone(phone), isAdmin)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, repository.ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(login, password)
	if subtle.ConstantTimeCompare(hashed, u.PasswordHash) != 1 {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// IsAdmin сообщает, есть ли у пользователя права администратора.
func (s *Service) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	return u.IsAdmin, nil
}

// GetProduct возвращает товар каталога.
func (s *Service) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, storageErr(err)
	}
	return p, nil
}

// UpsertProduct создаёт или заменяет товар каталога. Остаток задаётся абсолютным значением.
func (s *Service) UpsertProduct(ctx context.Context, p model.Product) (*model.Product, error) {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	switch {
	case p.ID == "":
		return nil, model.Validationf("product id is required")
	case p.Name == "":
		return nil, model.Validationf("product name is required")
	case p.Stock < 0:
		return nil, model.Validationf("stock must not be negative")
	}
	if err := validation.Money("price", p.Price); err != nil {
		return nil, err
	}

	saved, err := s.repo.UpsertProduct(ctx, p)
	if err != nil {
		return nil, storageErr(err)
	}
	return saved, nil
}

// GetOrder возвращает заказ по внутреннему идентификатору.
func (s *Service) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, storageErr(err)
	}
	return o, nil
}

// GetOrderByNumber возвращает заказ по номеру.
func (s *Service) GetOrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	if !validation.IsValidOrderNumber(number) {
		return nil, model.Validationf("malformed order number %q", number)
	}
	o, err := s.repo.GetOrderByNumber(ctx, number)
	if err != nil {
		return nil, storageErr(err)
	}
	return o, nil
}

// ListOrders возвращает страницу заказов по фильтру и общее число подходящих заказов.
func (s *Service) ListOrders(ctx context.Context, f model.OrderFilter, limit, offset int) ([]model.Order, int, error) {
	if f.OrderStatus != "" && !f.OrderStatus.Valid() {
		return nil, 0, model.Validationf("unknown order status %q", f.OrderStatus)
	}
	if f.PaymentStatus != "" && !f.PaymentStatus.Valid() {
		return nil, 0, model.Validationf("unknown payment status %q", f.PaymentStatus)
	}
	if limit < 0 || offset < 0 {
		return nil, 0, model.Validationf("limit and offset must not be negative")
	}

	orders, total, err := s.repo.ListOrders(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, storageErr(err)
	}
	return orders, total, nil
}

var errReportsDisabled = errors.New("report reader not configured")

// ListOrdersInRange возвращает заказы, созданные в [start, end), для внешних отчётов.
func (s *Service) ListOrdersInRange(ctx context.Context, start, end *time.Time) ([]model.Order, error) {
	if s.reports == nil {
		return nil, model.Storage(errReportsDisabled)
	}
	orders, err := s.reports.ListOrdersInRange(ctx, start, end)
	if err != nil {
		return nil, storageErr(err)
	}
	return orders, nil
}

// BuildReport строит отчёт вида kind за период.
func (s *Service) BuildReport(ctx context.Context, kind report.Kind, start, end *time.Time) (*report.Report, error) {
	if s.reports == nil {
		return nil, model.Storage(errReportsDisabled)
	}
	rep, err := report.NewAggregator(s.reports).Build(ctx, kind, start, end)
	if err != nil {
		return nil, storageErr(err)
	}
	return rep, nil
}

// storageErr оставляет классифицированные ошибки как есть, а остальные
// помечает как ошибки хранилища.
func storageErr(err error) error {
	var e *model.Error
	if errors.As(err, &e) {
		return err
	}
	return model.Storage(err)
}
