// Command authctl is the operator tool for the auth service: it bootstraps
// admin accounts and issues or inspects tokens for debugging.
//
//	authctl promote -name Dana -phone 0501234567 -password 'Aa1!aaaa'
//	authctl token -id 42 -name Dana -phone 0501234567 [-admin]
//	authctl verify <token>
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/account"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/account/entity"
	accountrepo "github.com/ovaphlow/pitchfork/service-learning-auth/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/password"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/token"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/validate"
	"github.com/ovaphlow/pitchfork/service-learning-auth/pkg/database"
	"github.com/ovaphlow/pitchfork/service-learning-auth/pkg/utilities"
)

var errUsage = errors.New("usage: authctl <promote|token|verify> [flags]")

type cli struct {
	stdout   io.Writer
	getenv   func(string) string
	logger   *zap.SugaredLogger
	openRepo func(ctx context.Context) (account.Repository, func(), error)
}

func main() {
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{stdout: os.Stdout, getenv: os.Getenv, logger: lg.Sugar(), openRepo: openPostgres}
	if err := c.run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(2)
	}
}

func openPostgres(ctx context.Context) (account.Repository, func(), error) {
	db, err := database.Connect(ctx, database.ConfigFromEnv())
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(ctx, db.DB); err != nil {
		db.Close()
		return nil, nil, err
	}
	return accountrepo.NewAccountRepo(db), func() { db.Close() }, nil
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "promote":
		return c.promote(ctx, args[1:])
	case "token":
		return c.token(args[1:])
	case "verify":
		return c.verify(args[1:])
	default:
		return fmt.Errorf("unknown command %q\n%w", args[0], errUsage)
	}
}

// promote grants admin to every account on the phone, creating one when none exists.
func (c *cli) promote(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("promote", flag.ContinueOnError)
	fs.SetOutput(c.stdout)
	creds := validate.Credentials{}
	fs.StringVar(&creds.Name, "name", "", "account name")
	fs.StringVar(&creds.Phone, "phone", "", "account phone")
	fs.StringVar(&creds.Password, "password", "", "new password")
	hasherName := fs.String("hasher", c.getenv("PASSWORD_HASHER"), "bcrypt or argon2id")
	cost := fs.Int("cost", password.DefaultBcryptCost, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := validate.Registration(&creds); err != nil {
		return err
	}

	hasher, err := password.New(*hasherName, *cost)
	if err != nil {
		return err
	}
	repo, closeRepo, err := c.openRepo(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	svc := account.NewService(repo, password.NewPool(hasher, 1), utilities.NewIDGeneratorFromEnv(), c.logger)
	a, _, err := svc.PromoteToAdmin(ctx, creds.Name, creds.Phone, creds.Password)
	if err != nil {
		return err
	}
	return c.print(a.Public())
}

func (c *cli) tokens() (*token.Service, error) {
	secret := c.getenv("JWT_SECRET")
	if secret == "" {
		return nil, errors.New("JWT_SECRET is not set")
	}
	return token.NewService([]byte(secret), nil)
}

func (c *cli) token(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(c.stdout)
	var a entity.Account
	fs.StringVar(&a.ID, "id", "", "account id")
	fs.StringVar(&a.Name, "name", "", "account name")
	fs.StringVar(&a.Phone, "phone", "", "account phone")
	fs.BoolVar(&a.IsAdmin, "admin", false, "carry the admin claim")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.ID == "" {
		return errors.New("token: -id is required")
	}

	svc, err := c.tokens()
	if err != nil {
		return err
	}
	tok, err := svc.Issue(a)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.stdout, tok)
	return err
}

func (c *cli) verify(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: authctl verify <token>")
	}
	svc, err := c.tokens()
	if err != nil {
		return err
	}
	claims, err := svc.Verify(args[0])
	if err != nil {
		return err
	}
	return c.print(claims)
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
