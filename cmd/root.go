// Package cmd wires configuration, storage and the federation engine into
// the pubcore command line.
package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubcore/activitypub"
	"github.com/deemkeen/pubcore/db"
	"github.com/deemkeen/pubcore/storage"
	"github.com/deemkeen/pubcore/util"
	"github.com/spf13/cobra"
)

const journalFile = "pubcore.db"

// app is the state shared by the subcommands of one invocation.
type app struct {
	cfgFile string
	out     io.Writer
	conf    *util.AppConfig
	logger  *log.Logger
	store   storage.Provider
	journal *db.DB
	inst    *activitypub.Instance
}

// NewRootCmd builds the command tree. Output of the listing commands goes to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:           util.Name,
		Short:         "An ActivityPub federation engine",
		Version:       util.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./config.yaml or ~/.config/pubcore/config.yaml)")

	root.AddCommand(
		newServeCmd(a),
		newUserAddCmd(a),
		newUsersCmd(a),
		newPublishCmd(a),
		newFollowCmd(a),
		newDeliveriesCmd(a),
	)
	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd(os.Stdout).Execute(); err != nil {
		log.Error("Command failed", "err", err)
		os.Exit(1)
	}
}

func (a *app) open() error {
	conf, err := util.ReadConfFile(a.cfgFile)
	if err != nil {
		return err
	}
	a.conf = conf

	a.logger, err = NewLogger(conf, os.Stderr)
	if err != nil {
		return err
	}
	a.logger.Debug("Configuration", "conf", util.PrettyPrint(conf))

	if err := os.MkdirAll(conf.Conf.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	a.journal, err = db.Open(filepath.Join(conf.Conf.DataDir, journalFile), a.logger.WithPrefix("db"))
	if err != nil {
		return err
	}

	switch conf.Conf.Storage {
	case util.StorageSqlite:
		a.store = a.journal
	default:
		a.store, err = storage.NewOnDisk(conf.Conf.DataDir, a.logger.WithPrefix("storage"))
		if err != nil {
			return err
		}
	}

	likes, replies := inboxHandlers(a.logger.WithPrefix("inbox"))
	a.inst = activitypub.New(activitypub.Options{
		LikeHandler:     likes,
		ReplyHandler:    replies,
		Host:            conf.PublicHost(),
		Store:           a.store,
		Recorder:        a.journal,
		Logger:          a.logger,
		DeliveryWorkers: conf.Conf.DeliveryWorkers,
		DeliveryTimeout: conf.DeliveryTimeout(),
		DiscoveryScheme: conf.Conf.DiscoveryScheme,
	})
	return nil
}

// inboxHandlers report likes and replies of local posts to the operator log.
func inboxHandlers(logger *log.Logger) (activitypub.LikeHandler, activitypub.ReplyHandler) {
	likes := activitypub.LikeHandlerFunc(func(postID string, actorURI string) {
		logger.Info("Post liked", "post", postID, "actor", actorURI)
	})
	replies := activitypub.ReplyHandlerFunc(func(localPostID string, actorURI string, content string) {
		logger.Info("Post replied to", "post", localPostID, "actor", actorURI, "content", content)
	})
	return likes, replies
}

func (a *app) close() error {
	if a.journal == nil {
		return nil
	}
	err := a.journal.Close()
	a.journal = nil
	return err
}

// NewLogger builds the process logger from logLevel and logFormat.
func NewLogger(conf *util.AppConfig, w io.Writer) (*log.Logger, error) {
	level, err := log.ParseLevel(conf.Conf.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid logLevel: %w", err)
	}

	var formatter log.Formatter
	switch strings.ToLower(conf.Conf.LogFormat) {
	case "", "text":
		formatter = log.TextFormatter
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	default:
		return nil, fmt.Errorf("unknown logFormat '%s'", conf.Conf.LogFormat)
	}

	return log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
		Prefix:          util.Name,
	}), nil
}
