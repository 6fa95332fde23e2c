package cli

import (
	"context"
	"io"
	"os"

	"github.com/dmitrijs2005/gophdeobf/internal/api"
	"github.com/dmitrijs2005/gophdeobf/internal/client/config"
	"github.com/dmitrijs2005/gophdeobf/internal/logging"
	sc "github.com/dmitrijs2005/gophdeobf/internal/server/config"
	"github.com/dmitrijs2005/gophdeobf/internal/server/services"
	"github.com/dmitrijs2005/gophdeobf/internal/server/storage"
)

// Gateway is the subset of api.Client used by the remote commands.
type Gateway interface {
	Deobfuscate(ctx context.Context, req *api.DeobfuscateRequest) (*api.DeobfuscateResponse, error)
	Balance(ctx context.Context) (int64, error)
	ClaimDaily(ctx context.Context) (*api.ClaimDailyResponse, error)
	Gift(ctx context.Context, userID string, amount int64) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// LedgerAdmin is the ledger as driven by the local ledger commands.
type LedgerAdmin interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	Grant(ctx context.Context, userID string, amount int64) (int64, error)
	ClaimDaily(ctx context.Context, userID string) (bool, error)
}

// App carries the resolved configuration and the collaborators the
// commands use. The function fields are replaced in tests.
type App struct {
	config *config.Config
	out    io.Writer
	errOut io.Writer

	Dial       func(addr, token string) (Gateway, error)
	OpenLedger func(ctx context.Context, kind, dsn string) (LedgerAdmin, func() error, error)
}

func NewApp() *App {
	return &App{
		out:        os.Stdout,
		errOut:     os.Stderr,
		Dial:       dialGateway,
		OpenLedger: openLedger,
	}
}

func dialGateway(addr, token string) (Gateway, error) {
	return api.Dial(addr, token)
}

func openLedger(ctx context.Context, kind, dsn string) (LedgerAdmin, func() error, error) {
	store, err := storage.Open(ctx, kind, dsn)
	if err != nil {
		return nil, nil, err
	}
	cfg := &sc.Config{}
	cfg.LoadDefaults()
	l := services.NewLedgerService(store.Accounts, logging.NewJSONLogger(os.Stderr, "warn"), cfg)
	return l, store.Close, nil
}

// Run executes the root command with args.
func (a *App) Run(ctx context.Context, args []string) error {
	root := a.RootCmd()
	root.SetArgs(args)
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	return root.ExecuteContext(ctx)
}
