package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-cache-service/internal/app"
	"github.com/kjstillabower/forecast-cache-service/internal/cache"
	"github.com/kjstillabower/forecast-cache-service/internal/config"
	"github.com/kjstillabower/forecast-cache-service/internal/models"
	"github.com/kjstillabower/forecast-cache-service/internal/observability"
	"github.com/kjstillabower/forecast-cache-service/internal/validation"
)

// errNoData is returned when the provider has nothing for the coordinates.
var errNoData = errors.New("no data for coordinates")

// resolver is the part of service.WeatherService the commands use.
type resolver interface {
	ResolveLocationKey(ctx context.Context, lat, lon float64) (string, bool, error)
	GetDailyForecast(ctx context.Context, lat, lon float64) (json.RawMessage, bool, error)
	GetHourlyForecast(ctx context.Context, lat, lon float64) (json.RawMessage, bool, error)
}

// session is an opened resolver plus the configuration it was built from.
type session struct {
	resolver resolver
	cfg      *config.Config
	logger   *zap.Logger
	close    func(ctx context.Context) error
}

type opener func(ctx context.Context) (*session, error)

// openFromConfig loads configuration and wires the resolver against the configured store.
func openFromConfig(ctx context.Context) (*session, error) {
	logger, err := observability.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	components, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &session{
		resolver: components.Service,
		cfg:      cfg,
		logger:   logger,
		close:    components.Close,
	}, nil
}

func newRootCmd(open opener) *cobra.Command {
	var (
		latStr, longStr string
		timeout         time.Duration
	)

	rootCmd := &cobra.Command{
		Use:           "forecastctl",
		Short:         "Resolve location keys and forecasts through the forecast cache",
		Long:          `Runs the cache-or-fetch resolver against the configured store and weather provider.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 30*time.Second, "Overall timeout for the command")

	// withSession opens a session, runs fn with parsed coordinates and closes the session.
	withSession := func(cmd *cobra.Command, needCoords bool, fn func(ctx context.Context, s *session, c models.Coordinate) error) error {
		var coord models.Coordinate
		if needCoords {
			var err error
			coord, err = validation.ParseCoordinates(latStr, longStr)
			if err != nil {
				return err
			}
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		s, err := open(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if s.close != nil {
				_ = s.close(context.Background())
			}
		}()
		return fn(ctx, s, coord)
	}

	locationCmd := &cobra.Command{
		Use:   "location",
		Short: "Print the provider location key for --lat/--long",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, true, func(ctx context.Context, s *session, c models.Coordinate) error {
				key, ok, err := s.resolver.ResolveLocationKey(ctx, c.Latitude, c.Longitude)
				if err != nil {
					return err
				}
				if !ok {
					return errNoData
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), key)
				return err
			})
		},
	}

	dailyCmd := &cobra.Command{
		Use:   "daily",
		Short: "Print the daily forecast JSON for --lat/--long",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, true, func(ctx context.Context, s *session, c models.Coordinate) error {
				payload, ok, err := s.resolver.GetDailyForecast(ctx, c.Latitude, c.Longitude)
				return printPayload(cmd.OutOrStdout(), payload, ok, err)
			})
		},
	}

	hourlyCmd := &cobra.Command{
		Use:   "hourly",
		Short: "Print the hourly forecast JSON for --lat/--long",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, true, func(ctx context.Context, s *session, c models.Coordinate) error {
				payload, ok, err := s.resolver.GetHourlyForecast(ctx, c.Latitude, c.Longitude)
				return printPayload(cmd.OutOrStdout(), payload, ok, err)
			})
		},
	}

	for _, c := range []*cobra.Command{locationCmd, dailyCmd, hourlyCmd} {
		c.Flags().StringVar(&latStr, "lat", "", "Latitude in decimal degrees")
		c.Flags().StringVar(&longStr, "long", "", "Longitude in decimal degrees")
		_ = c.MarkFlagRequired("lat")
		_ = c.MarkFlagRequired("long")
	}

	warmCmd := &cobra.Command{
		Use:   "warm",
		Short: "Fetch daily and hourly forecasts for the configured warming coordinates once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, false, func(ctx context.Context, s *session, _ models.Coordinate) error {
				if s.cfg == nil || len(s.cfg.TrackedCoordinates) == 0 {
					return errors.New("no warming.coordinates configured")
				}
				warmer := cache.NewCacheWarmer(s.resolver, s.logger, s.cfg.WarmingTimeout)
				if err := warmer.Warm(ctx, s.cfg.TrackedCoordinates); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "warmed %d locations\n", len(s.cfg.TrackedCoordinates))
				return err
			})
		},
	}

	rootCmd.AddCommand(locationCmd, dailyCmd, hourlyCmd, warmCmd)
	return rootCmd
}

func printPayload(w io.Writer, payload json.RawMessage, ok bool, err error) error {
	if err != nil {
		return err
	}
	if !ok {
		return errNoData
	}
	_, err = fmt.Fprintln(w, string(payload))
	return err
}

func main() {
	if err := newRootCmd(openFromConfig).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errNoData) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
