package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/waabox/flakewatch/internal/analyze"
	"github.com/waabox/flakewatch/internal/archive"
	"github.com/waabox/flakewatch/internal/auth"
	"github.com/waabox/flakewatch/internal/config"
	"github.com/waabox/flakewatch/internal/git"
	"github.com/waabox/flakewatch/internal/gitlab"
	"github.com/waabox/flakewatch/internal/report"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

// defaultClientID is the Application ID of the flakewatch OAuth app
// registered on gitlab.com. It is non-confidential (no secret required)
// so it is safe to distribute with the binary. Users can override it by
// setting gitlab.client_id in ~/.config/flakewatch/config.toml.
const defaultClientID = "9df6c8abe93dc879a79ecf7681909b4a37d5c61064190a795bbf16e1ed8bffa3"

func main() {
	// A .env in the working directory can supply GITLAB_TOKEN and
	// friends; a missing file is not an error.
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "flakewatch",
		Usage:   "analyze GitLab CI job retry history to tell flaky tests from legitimate failures",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to the TOML config file",
				Value: config.DefaultConfigPath(),
			},
			&cli.StringSliceFlag{
				Name:    "project",
				Aliases: []string{"p"},
				Usage:   "GitLab project ID or group/name path (repeatable)",
			},
			&cli.IntFlag{
				Name:  "days",
				Usage: "analyze pipelines updated within the last N days",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "number of concurrent per-pipeline job fetches",
			},
			&cli.StringFlag{
				Name:  "out-dir",
				Usage: "directory for result and log files",
			},
			&cli.BoolFlag{
				Name:  "zip",
				Usage: "bundle all result files into a timestamped zip",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "write a JSON report alongside the text one",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "flakewatch: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	configPath := c.String("config")
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyFlags(&cfg, c)
	if cfg.GitLab.ClientID == "" {
		cfg.GitLab.ClientID = defaultClientID
	}

	ctx := c.Context

	if cfg.GitLab.Token == "" {
		token, refresh, authErr := runDeviceFlow(ctx, cfg.GitLab.ClientID, cfg.GitLab.URL)
		if authErr != nil {
			return fmt.Errorf("GitLab authentication failed: %w", authErr)
		}
		cfg.GitLab.Token = token
		cfg.GitLab.RefreshToken = refresh
		if saveErr := config.Save(configPath, cfg); saveErr != nil {
			fmt.Fprintf(os.Stderr, "warning: could not save token to config: %v (you will need to re-authenticate next run)\n", saveErr)
		} else {
			fmt.Fprintf(os.Stderr, "Authenticated. Token saved to %s\n", configPath)
		}
	}

	projects := cfg.Analysis.Projects
	if len(projects) == 0 {
		cwd, wdErr := os.Getwd()
		if wdErr != nil {
			return fmt.Errorf("getting current directory: %w", wdErr)
		}
		path, detectErr := git.DetectProjectPath(cwd)
		if detectErr != nil {
			return fmt.Errorf("no projects configured and no GitLab remote detected: %w", detectErr)
		}
		projects = []string{path}
	}

	outDir := cfg.OutputDirOrDefault()
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	tokens := auth.NewTokenManager(&cfg, configPath)
	updatedAfter := time.Now().AddDate(0, 0, -cfg.LookbackDaysOrDefault())
	generatedAt := time.Now()

	var generated []string
	var failures *multierror.Error
	for _, projectID := range projects {
		files, runErr := analyzeProject(ctx, cfg, tokens, projectID, updatedAfter, generatedAt, outDir, c.Bool("verbose"))
		generated = append(generated, files...)
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "flakewatch: project %s: %v\n", projectID, runErr)
			failures = multierror.Append(failures, fmt.Errorf("project %s: %w", projectID, runErr))
		}
	}

	if cfg.Output.Zip && len(generated) > 0 {
		dirName := "flakiness_analysis_results_" + generatedAt.Format("20060102_150405")
		zipPath, zipErr := archive.Bundle(outDir, dirName, generated)
		if zipErr != nil {
			failures = multierror.Append(failures, fmt.Errorf("bundling results: %w", zipErr))
		} else {
			fmt.Fprintf(os.Stderr, "Results bundled into %s\n", zipPath)
		}
	}

	return failures.ErrorOrNil()
}

// analyzeProject runs the analysis for one project and writes its report
// and log files. It returns the paths of every file it produced, including
// on failure, so partial output still makes it into the bundle.
func analyzeProject(ctx context.Context, cfg config.Config, tokens *auth.TokenManager, projectID string, updatedAfter time.Time, generatedAt time.Time, outDir string, verbose bool) ([]string, error) {
	logPath := filepath.Join(outDir, sanitizeFilename(projectID)+"_flakiness_analysis_log.txt")
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}
	defer logFile.Close()
	files := []string{logPath}

	log := logrus.New()
	log.SetOutput(io.MultiWriter(os.Stderr, logFile))
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	client := gitlab.New(cfg.GitLab.Token, cfg.GitLab.URL, gitlab.Options{
		RetryAttempts: cfg.RetryAttemptsOrDefault(),
		BackoffBase:   cfg.RetryBackoffOrDefault(),
		Logger:        log,
		RefreshToken:  tokens.Refresh,
	})

	res, err := analyze.Run(ctx, client, analyze.Config{
		ProjectID:    projectID,
		UpdatedAfter: updatedAfter,
		Workers:      cfg.WorkersOrDefault(),
		Log:          log,
	})
	if err != nil {
		return files, err
	}
	if skipErr := res.SkippedError(); skipErr != nil {
		log.WithError(skipErr).Warn("some pipelines were skipped")
	}

	base := sanitizeFilename(res.Project.Name)
	if base == "" {
		base = sanitizeFilename(projectID)
	}

	textPath := filepath.Join(outDir, base+"_flakiness_analysis_results.txt")
	if err := writeReport(textPath, func(w io.Writer) error {
		return report.WriteText(w, res, generatedAt)
	}); err != nil {
		return files, err
	}
	files = append(files, textPath)
	log.WithField("file", textPath).Info("analysis complete, results saved")

	if cfg.Output.JSON {
		jsonPath := filepath.Join(outDir, base+"_flakiness_analysis_results.json")
		if err := writeReport(jsonPath, func(w io.Writer) error {
			return report.WriteJSON(w, res, generatedAt)
		}); err != nil {
			return files, err
		}
		files = append(files, jsonPath)
		log.WithField("file", jsonPath).Info("JSON report saved")
	}

	return files, nil
}

func writeReport(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func applyFlags(cfg *config.Config, c *cli.Context) {
	if p := c.StringSlice("project"); len(p) > 0 {
		cfg.Analysis.Projects = p
	}
	if c.IsSet("days") {
		cfg.Analysis.LookbackDays = c.Int("days")
	}
	if c.IsSet("workers") {
		cfg.Analysis.Workers = c.Int("workers")
	}
	if c.IsSet("out-dir") {
		cfg.Output.Dir = c.String("out-dir")
	}
	if c.IsSet("zip") {
		cfg.Output.Zip = c.Bool("zip")
	}
	if c.IsSet("json") {
		cfg.Output.JSON = c.Bool("json")
	}
}

var unsafeFilenameChars = regexp.MustCompile(`[^\w\s\-_]`)

// sanitizeFilename turns a project name into a safe file name stem:
// anything outside word characters, spaces, hyphens and underscores is
// dropped, then spaces become underscores.
func sanitizeFilename(name string) string {
	s := unsafeFilenameChars.ReplaceAllString(name, "")
	return strings.ReplaceAll(s, " ", "_")
}

// runDeviceFlow runs the GitLab Device Authorization Flow interactively.
// All prompts are written to stderr so stdout remains clean for piping.
// baseURL is the GitLab instance base URL; pass empty string for gitlab.com.
func runDeviceFlow(ctx context.Context, clientID string, baseURL string) (string, string, error) {
	flow := auth.NewGitLabDeviceFlow(clientID, baseURL)
	code, err := flow.RequestCode(ctx)
	if err != nil {
		return "", "", fmt.Errorf("requesting device code: %w", err)
	}
	fmt.Fprintf(os.Stderr, "No GitLab token found. Starting OAuth authentication...\n")
	fmt.Fprintf(os.Stderr, "Visit:      %s\n", code.VerificationURI)
	fmt.Fprintf(os.Stderr, "Enter code: %s\n", code.UserCode)
	fmt.Fprintf(os.Stderr, "Waiting for authorization...\n")
	codeCtx, cancel := context.WithTimeout(ctx, time.Duration(code.ExpiresIn)*time.Second)
	defer cancel()
	tok, err := flow.PollToken(codeCtx, code.DeviceCode, code.Interval)
	if err != nil {
		return "", "", err
	}
	return tok.AccessToken, tok.RefreshToken, nil
}
