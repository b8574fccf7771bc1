package app

import (
	"database/sql"
	"log/slog"

	"verifika/internal/config"
	"verifika/internal/db"
	"verifika/internal/engine"
	"verifika/internal/migrate"
	"verifika/internal/notify"
)

// Context bundles everything a command needs: an open migrated database, the
// merged configuration, and a ready engine.
type Context struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Engine    engine.Engine
	Notifier  *notify.Dispatcher
}

// Open boots the workspace: ensures the data directory, opens and migrates
// the database, loads verifika.yml (falling back to defaults), and wires the
// engine with its notification dispatcher.
func Open(workspace string) (*Context, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	var sender notify.Sender
	if cfg.Notifications.EmailEndpoint != "" {
		sender = notify.NewWebhookSender(cfg.Notifications.EmailEndpoint, cfg.Notifications.FrontendURL)
	}
	notifier := notify.New(conn, sender, slog.Default())
	return &Context{
		Workspace: workspace,
		DB:        conn,
		Config:    cfg,
		Engine:    engine.New(conn, cfg, notifier),
		Notifier:  notifier,
	}, nil
}

func (c *Context) Close() error {
	return c.DB.Close()
}
