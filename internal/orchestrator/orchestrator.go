// Package orchestrator implements the business workflows: it derives
// account addresses, builds and submits instructions, sequences physical
// device control around ledger transitions, and keeps the entity
// repository refreshed. There is no ambient wallet: the signing identity
// is passed explicitly into every write call.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tgxzd/agrox/internal/codec"
	"github.com/tgxzd/agrox/internal/device"
	"github.com/tgxzd/agrox/internal/events"
	"github.com/tgxzd/agrox/internal/gateway"
	"github.com/tgxzd/agrox/internal/models"
	"github.com/tgxzd/agrox/internal/pda"
	"github.com/tgxzd/agrox/internal/repo"
	"github.com/tgxzd/agrox/internal/schema"
)

// Typed workflow failures, mapped 1:1 from ledger rejection codes. Each is
// user-actionable; none is retried automatically.
var (
	ErrMachineIDExists       = errors.New("machine id already exists")
	ErrPlantNameExists       = errors.New("plant name already exists")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrMachineNotActive      = errors.New("machine is not active")
	ErrNoRewards             = errors.New("no rewards available to claim")
	ErrInvalidDataEntryIndex = errors.New("invalid data entry index")
	ErrPlantNotLinked        = errors.New("plant not linked to machine")
	ErrNotDelegated          = errors.New("account not delegated")
)

// Config holds capture timing. Zero durations fall back to the deployed
// defaults (10s settle, 10s telemetry, 10min images).
type Config struct {
	Seeds         pda.Seeds
	SettleDelay   time.Duration
	DataInterval  time.Duration
	ImageInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Seeds.MachineTag == "" {
		c.Seeds = pda.DefaultSeeds()
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 10 * time.Second
	}
	if c.DataInterval <= 0 {
		c.DataInterval = 10 * time.Second
	}
	if c.ImageInterval <= 0 {
		c.ImageInterval = 10 * time.Minute
	}
}

// Result reports a completed workflow. Warning is set when the ledger
// transition succeeded but a paired device call failed, meaning ledger
// state and physical state may be out of sync.
type Result struct {
	TxID    string      `json:"tx_id"`
	Address pda.Address `json:"address,omitempty"`
	Warning string      `json:"warning,omitempty"`
}

// Orchestrator composes the address deriver, codec, gateway, repository
// and device controller into workflow operations.
type Orchestrator struct {
	gw     gateway.Gateway
	repo   *repo.Repository
	cod    *codec.Codec
	sch    *schema.Schema
	dev    *device.Controller
	pub    *events.Publisher
	cfg    Config
	log    *zap.Logger
	tracer trace.Tracer

	program pda.Address

	mu       sync.Mutex
	captures map[string]*capture
}

func New(gw gateway.Gateway, rp *repo.Repository, cod *codec.Codec, sch *schema.Schema,
	dev *device.Controller, pub *events.Publisher, cfg Config, log *zap.Logger) (*Orchestrator, error) {

	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	program, err := pda.Parse(sch.Program)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: bad program id: %w", err)
	}
	return &Orchestrator{
		gw:       gw,
		repo:     rp,
		cod:      cod,
		sch:      sch,
		dev:      dev,
		pub:      pub,
		cfg:      cfg,
		log:      log,
		tracer:   otel.Tracer("agrox/orchestrator"),
		program:  program,
		captures: map[string]*capture{},
	}, nil
}

// Repo exposes the read-only repository view.
func (o *Orchestrator) Repo() *repo.Repository {
	return o.repo
}

// Program returns the target program id.
func (o *Orchestrator) Program() pda.Address {
	return o.program
}

// mapRejection translates ledger rejection codes into the typed errors
// above, keeping the original message in the chain.
func mapRejection(err error) error {
	var re *gateway.RejectedError
	if !errors.As(err, &re) {
		return err
	}
	var sentinel error
	switch re.Code {
	case gateway.CodeMachineIDAlreadyExists:
		sentinel = ErrMachineIDExists
	case gateway.CodeAccountAlreadyInUse:
		sentinel = ErrPlantNameExists
	case gateway.CodeUnauthorized:
		sentinel = ErrUnauthorized
	case gateway.CodeMachineNotActive:
		sentinel = ErrMachineNotActive
	case gateway.CodeNoRewardsAvailable:
		sentinel = ErrNoRewards
	case gateway.CodeInvalidDataEntryIndex:
		sentinel = ErrInvalidDataEntryIndex
	case gateway.CodePlantNotLinkedToMachine:
		sentinel = ErrPlantNotLinked
	case gateway.CodeAccountNotDelegated:
		sentinel = ErrNotDelegated
	default:
		return err
	}
	return fmt.Errorf("%w: %s", sentinel, re.Msg)
}

func writable(addr pda.Address) gateway.AccountMeta {
	return gateway.AccountMeta{Address: addr, Writable: true}
}

func signerMeta(addr pda.Address) gateway.AccountMeta {
	return gateway.AccountMeta{Address: addr, Signer: true}
}

// send encodes arguments, submits one instruction and maps rejections.
func (o *Orchestrator) send(ctx context.Context, name string, signer pda.Address,
	metas []gateway.AccountMeta, args ...any) (string, error) {

	data, err := o.cod.EncodeArgs(name, args...)
	if err != nil {
		return "", err
	}
	txSubmitted.WithLabelValues(name).Inc()
	txID, err := o.gw.Send(ctx, gateway.Instruction{
		Program:  o.program,
		Name:     name,
		Accounts: metas,
		Data:     data,
	}, signer)
	if err != nil {
		txRejected.WithLabelValues(name).Inc()
		return "", mapRejection(err)
	}
	return txID, nil
}

// refresh re-syncs the repository after a write. A failed refresh does not
// undo the already-confirmed write; it is logged and retried by the next
// workflow or capture tick.
func (o *Orchestrator) refresh(ctx context.Context) {
	if err := o.repo.RefreshAll(ctx); err != nil {
		o.log.Warn("repository refresh failed", zap.Error(err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, subject string, event any) {
	if o.pub == nil {
		return
	}
	if err := o.pub.Publish(ctx, subject, event); err != nil {
		o.log.Warn("event publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

// fetchMachine reads and decodes one machine account straight from the
// ledger (not the cached snapshot).
func (o *Orchestrator) fetchMachine(ctx context.Context, addr pda.Address) (*models.Machine, error) {
	acct, err := o.gw.GetAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	m, err := o.cod.DecodeMachine(acct.Data)
	if err != nil {
		return nil, err
	}
	m.Address = addr
	return m, nil
}

func (o *Orchestrator) fetchPlant(ctx context.Context, addr pda.Address) (*models.Plant, error) {
	acct, err := o.gw.GetAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	p, err := o.cod.DecodePlant(acct.Data)
	if err != nil {
		return nil, err
	}
	p.Address = addr
	return p, nil
}

func (o *Orchestrator) span(ctx context.Context, name string) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("program", o.program.String()),
	))
}
