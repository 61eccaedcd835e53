package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/koi/internal/client"
	"github.com/MarcoPoloResearchLab/koi/internal/config"
	"github.com/MarcoPoloResearchLab/koi/internal/gamification"
	"github.com/MarcoPoloResearchLab/koi/internal/logging"
	"github.com/MarcoPoloResearchLab/koi/internal/ranks"
	"github.com/MarcoPoloResearchLab/koi/internal/toast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

type watchOptions struct {
	checkin bool
	action  string
	once    bool
}

func newWatchCommand() *cobra.Command {
	var opts watchOptions
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the signed-in player's progression and print notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), opts)
		},
	}

	defaults := config.NewViper()
	cmd.Flags().String("base-url", defaults.GetString("client.base_url"), "API base URL")
	cmd.Flags().String("token", "", "Session token (overrides env)")
	cmd.Flags().String("locale", defaults.GetString("client.locale"), "Locale used for rank names (en, vi)")
	cmd.Flags().Int("level-up-delay-ms", defaults.GetInt("client.level_up_delay_ms"), "Delay between an XP toast and its level-up toast")
	cmd.Flags().Int("toast-duration-ms", defaults.GetInt("client.toast_duration_ms"), "How long a toast stays visible")
	cmd.Flags().BoolVar(&opts.checkin, "checkin", false, "Perform the daily check-in after loading")
	cmd.Flags().StringVar(&opts.action, "action", "", "Record a rewarded action after loading (e.g. create_post)")
	cmd.Flags().BoolVar(&opts.once, "once", false, "Exit after the initial load and requested operations")

	bindFlag(cmd, "client.base_url", "base-url")
	bindFlag(cmd, "client.token", "token")
	bindFlag(cmd, "client.locale", "locale")
	bindFlag(cmd, "client.level_up_delay_ms", "level-up-delay-ms")
	bindFlag(cmd, "client.toast_duration_ms", "toast-duration-ms")
	return cmd
}

func runWatch(ctx context.Context, opts watchOptions) error {
	clientConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewConsoleLogger(clientConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	locale := ranks.ParseLocale(clientConfig.Locale)

	apiClient, err := client.New(client.Config{
		BaseURL: clientConfig.BaseURL,
		Token:   clientConfig.Token,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	var emitter *toast.Emitter
	emitter = toast.NewEmitter(toast.Config{
		Logger: logger,
		OnShow: func(notification toast.Notification) {
			logger.Info("toast",
				zap.String("kind", string(notification.Kind)),
				zap.String("message", notification.Message))
			time.AfterFunc(clientConfig.ToastDuration, func() {
				emitter.Complete(notification.ID)
			})
		},
	})

	levelUpDelay := clientConfig.LevelUpDelay
	if levelUpDelay == 0 {
		levelUpDelay = -1
	}

	store, err := gamification.NewStore(gamification.StoreConfig{
		Backend:      apiClient,
		Identity:     apiClient,
		Notifier:     emitter,
		LevelUpDelay: levelUpDelay,
		Logger:       logger,
		OnChange: func(view gamification.View) {
			logger.Debug("progression changed", viewFields(view, locale)...)
		},
	})
	if err != nil {
		return err
	}
	defer store.Close()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Start(signalCtx); err != nil {
		return err
	}
	view := store.State()
	if view.IdentityID == "" {
		return fmt.Errorf("watch: session token was not accepted by %s", clientConfig.BaseURL)
	}
	logger.Info("progression loaded", viewFields(view, locale)...)

	if opts.checkin {
		result, err := store.PerformDailyCheckin(signalCtx)
		if err != nil {
			return err
		}
		logger.Info("check-in", zap.Bool("success", result.Success), zap.String("message", result.Message))
	}

	if opts.action != "" {
		grant, err := apiClient.RecordAction(signalCtx, opts.action)
		if err != nil {
			return err
		}
		logger.Info("action recorded",
			zap.String("action", grant.Action),
			zap.Int64("amount", grant.Amount),
			zap.Int64("bonus", grant.Bonus),
			zap.Strings("awarded_badges", grant.AwardedBadges))
	}

	if opts.once {
		return nil
	}

	<-signalCtx.Done()
	logger.Info("watch stopped", viewFields(store.State(), locale)...)
	return nil
}

func viewFields(view gamification.View, locale language.Tag) []zap.Field {
	return []zap.Field{
		zap.String("identity_id", view.IdentityID),
		zap.String("name", view.ProfileName),
		zap.Int("level", view.Level),
		zap.String("rank", view.Rank.DisplayName(locale)),
		zap.Int64("xp", view.XP),
		zap.Int64("xp_to_next_level", view.XPToNextLevel),
		zap.Float64("progress", view.XPProgress),
		zap.Int("badges", len(view.Badges)),
		zap.Bool("checked_in_today", view.HasCheckedInToday),
	}
}
