package cmd

import (
	"context"
	"fmt"
	u "net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/vidzo/internal/config"
	"github.com/tanq16/vidzo/internal/scheduler"
	"github.com/tanq16/vidzo/internal/utils"
)

var (
	connections    int
	chunkSize      string
	retries        int
	timeout        time.Duration
	connectTimeout time.Duration
	kaTimeout      time.Duration
	userAgent      string
	proxyURL       string
	proxyUsername  string
	proxyPassword  string
	bearerToken    string
	headers        []string
	limitRate      string
	workers        int
	configPath     string
	debug          bool
)

var (
	settings         = config.Default()
	globalHTTPConfig utils.HTTPClientConfig
	chunkBytes       int64
	limitBytes       int64
)

var rootCmd = &cobra.Command{
	Use:          "vidzo",
	Short:        "Vidzo is a resumable multi-connection downloader",
	Version:      utils.VidzoVersion,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		utils.InitLogger(debug)
		return setup(cmd)
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&connections, "connections", "c", config.DefaultConcurrency, "Number of connections per download (above 5 enables high-thread-mode)")
	rootCmd.PersistentFlags().StringVarP(&chunkSize, "chunk-size", "s", "1MiB", "Size of each ranged request (64KiB to 10MiB)")
	rootCmd.PersistentFlags().IntVarP(&retries, "retries", "r", config.DefaultRetries, "Attempts per request before giving up")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", config.DefaultTimeout, "Request timeout, also the longest a transfer may stall (eg. 30s, 2m)")
	rootCmd.PersistentFlags().DurationVar(&connectTimeout, "connect-timeout", config.DefaultConnect, "Connection establishment timeout")
	rootCmd.PersistentFlags().DurationVarP(&kaTimeout, "keep-alive-timeout", "k", utils.DefaultKATimeout, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	rootCmd.PersistentFlags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent(), "User agent ('randomize' picks a browser agent)")
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.PersistentFlags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	rootCmd.PersistentFlags().StringVar(&bearerToken, "bearer-token", "", "Bearer token sent with every request")
	rootCmd.PersistentFlags().StringVar(&limitRate, "limit-rate", "", "Bandwidth cap per download (eg. 5MB)")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 1, "Number of downloads to run in parallel")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default is <config dir>/vidzo/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newHTTPCmd())
	rootCmd.AddCommand(newS3Cmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newConfigCmd())
}

// setup loads the settings file and lets explicit flags override it.
func setup(cmd *cobra.Command) error {
	path := configPath
	if path == "" {
		if p, err := config.DefaultPath(); err == nil {
			path = p
		}
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		settings = loaded
	}
	for _, warning := range settings.Validate() {
		log.Warn().Str("op", "cmd/root").Msg(warning)
	}
	return applySettings(cmd, settings)
}

func applySettings(cmd *cobra.Command, s config.Settings) error {
	flags := cmd.Flags()
	if !flags.Changed("connections") {
		connections = s.EffectiveConcurrency()
	}
	if !flags.Changed("retries") {
		retries = s.EffectiveRetries()
	}
	if !flags.Changed("timeout") {
		timeout = s.EffectiveTimeout()
	}
	if !flags.Changed("connect-timeout") {
		connectTimeout = s.EffectiveConnectTimeout()
	}
	if !flags.Changed("user-agent") && s.UserAgent != "" {
		userAgent = s.UserAgent
	}
	if flags.Changed("chunk-size") {
		n, err := utils.ParseSize(chunkSize)
		if err != nil {
			return err
		}
		chunkBytes = n
	} else {
		chunkBytes = s.EffectiveChunkSize()
	}
	if flags.Changed("limit-rate") {
		n, err := utils.ParseSize(limitRate)
		if err != nil {
			return err
		}
		limitBytes = n
	} else {
		limitBytes = s.LimitRateBytes()
	}

	if userAgent == "randomize" {
		userAgent = utils.GetRandomUserAgent()
	}
	// Check if proxy URL contains auth
	parsedProxy, err := u.Parse(proxyURL)
	if err == nil && parsedProxy.User != nil && proxyUsername == "" {
		proxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			proxyPassword = password
		}
		// Remove auth from URL to send in clientConfig
		parsedProxy.User = nil
		proxyURL = parsedProxy.String()
	}
	globalHTTPConfig = utils.HTTPClientConfig{
		Timeout:        timeout,
		ConnectTimeout: connectTimeout,
		KATimeout:      kaTimeout,
		ProxyURL:       proxyURL,
		ProxyUsername:  proxyUsername,
		ProxyPassword:  proxyPassword,
		UserAgent:      userAgent,
		BearerToken:    bearerToken,
		Headers:        utils.ParseHeaderArgs(headers),
	}
	return nil
}

// newJob fills in the shared transfer settings for one download.
func newJob(jobType, url, outputPath string) utils.VidzoJob {
	job := utils.VidzoJob{
		JobType:          jobType,
		URL:              url,
		OutputPath:       outputPath,
		Connections:      connections,
		ChunkSize:        chunkBytes,
		MaxRetries:       retries,
		LimitRate:        limitBytes,
		HTTPClientConfig: globalHTTPConfig,
		Metadata:         make(map[string]any),
	}
	if outputPath == "" && settings.OutputDirectory != "" {
		job.Metadata["outputDir"] = settings.OutputDirectory
	}
	job.Metadata["autoResume"] = settings.AutoResume
	if settings.ConfirmLargeDownloads {
		job.Metadata["largeThreshold"] = settings.LargeThreshold()
	}
	return job
}

func runJobs(cmd *cobra.Command, jobs []utils.VidzoJob) error {
	n := workers
	if n < 1 {
		n = 1
	}
	if err := scheduler.Run(cmd.Context(), jobs, n); err != nil {
		if utils.KindOf(err) == utils.KindCancelled {
			return fmt.Errorf("interrupted, run the same command again to resume")
		}
		return err
	}
	return nil
}
