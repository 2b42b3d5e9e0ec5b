// Package command runs the trainer and evaluator as an external program.
// The program is invoked once per call with the operation name as its last
// argument, reads a JSON request on stdin and answers with JSON on stdout.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"gofinetune/domain/cohort"
	"gofinetune/internal"
	"gofinetune/internal/config"
	"gofinetune/internal/errors"
	"gofinetune/ports"
)

// Operation names passed to the program
const (
	OpFit     = "fit"
	OpPredict = "predict"
)

// stderr kept in error messages
const maxStderr = 2048

type fitResponse struct {
	Artifact ports.Artifact `json:"artifact"`
	History  ports.History  `json:"history"`
}

type predictRequest struct {
	Artifact ports.Artifact   `json:"artifact"`
	Examples []cohort.Example `json:"examples"`
}

type predictResponse struct {
	Scores []float64 `json:"scores"`
}

// Client implements ports.Trainer and ports.Evaluator over a subprocess
type Client struct {
	command string
	args    []string
	timeout time.Duration
	logger  *internal.Logger
}

// NewClient creates a client for the configured collaborator program
func NewClient(cfg config.CollaboratorConfig, logger *internal.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.ConfigInvalid("collaborator.command is required to train or evaluate")
	}
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &Client{
		command: cfg.Command,
		args:    append([]string(nil), cfg.Args...),
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Fit runs one fine-tuning pass
func (c *Client) Fit(ctx context.Context, req ports.FitRequest) (ports.Artifact, ports.History, error) {
	var resp fitResponse
	if err := c.call(ctx, OpFit, req, &resp); err != nil {
		return ports.Artifact{}, nil, err
	}
	return resp.Artifact, resp.History, nil
}

// Predict scores examples with the given artifact
func (c *Client) Predict(ctx context.Context, artifact ports.Artifact, examples []cohort.Example) ([]float64, error) {
	var resp predictResponse
	if err := c.call(ctx, OpPredict, predictRequest{Artifact: artifact, Examples: examples}, &resp); err != nil {
		return nil, err
	}
	return resp.Scores, nil
}

func (c *Client) call(ctx context.Context, op string, req, resp interface{}) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return errors.Wrapf(err, "encode %s request", op)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := append(append([]string(nil), c.args...), op)
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.command, args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return errors.ExternalServiceError(c.command+" "+op,
			fmt.Errorf("%w\nstderr:\n%s", err, tail(stderr.String(), maxStderr)))
	}
	c.logger.Debug("%s %s finished in %s", c.command, op, time.Since(start).Round(time.Millisecond))

	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), resp); err != nil {
		return errors.ExternalServiceError(c.command+" "+op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
