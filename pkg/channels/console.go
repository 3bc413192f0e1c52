package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/relaybot/relaybot/pkg/bus"
	"github.com/relaybot/relaybot/pkg/config"
	"github.com/relaybot/relaybot/pkg/logger"
)

const consoleChatID = "local"

// ConsoleChannel reads messages from the terminal so the bot can be tried
// without pairing a phone. Every line is one inbound message.
type ConsoleChannel struct {
	*BaseChannel
	config config.ConsoleConfig
	rl     *readline.Instance
	stdin  io.ReadCloser
	stdout io.Writer
	mu     sync.Mutex
	done   chan struct{}
}

func NewConsoleChannel(cfg config.ConsoleConfig, msgBus *bus.MessageBus) *ConsoleChannel {
	return &ConsoleChannel{
		BaseChannel: NewBaseChannel("console", cfg, msgBus, cfg.AllowFrom),
		config:      cfg,
	}
}

// SetIO replaces the terminal with the given streams.
func (c *ConsoleChannel) SetIO(stdin io.ReadCloser, stdout io.Writer) {
	c.stdin = stdin
	c.stdout = stdout
}

func (c *ConsoleChannel) Start(ctx context.Context) error {
	prompt := c.config.Prompt
	if prompt == "" {
		prompt = "you> "
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           c.stdin,
		Stdout:          c.stdout,
	})
	if err != nil {
		return fmt.Errorf("failed to open console: %w", err)
	}
	c.rl = rl
	c.done = make(chan struct{})
	c.setRunning(true)

	go c.readLoop(ctx)

	logger.InfoC("console", "Console channel ready, type a message")
	return nil
}

func (c *ConsoleChannel) readLoop(ctx context.Context) {
	defer close(c.done)
	name := c.config.DisplayName
	if name == "" {
		name = "console"
	}

	for {
		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				logger.InfoC("console", "Console input closed")
			} else {
				logger.ErrorCF("console", "Console read failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
			c.setRunning(false)
			return
		}
		if ctx.Err() != nil {
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		c.HandleMessage(name, name, consoleChatID, line, nil)
	}
}

func (c *ConsoleChannel) Stop(ctx context.Context) error {
	c.setRunning(false)
	if c.rl != nil {
		c.rl.Close()
	}
	if c.done != nil {
		select {
		case <-c.done:
		case <-ctx.Done():
		}
	}
	return nil
}

func (c *ConsoleChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rl == nil {
		return fmt.Errorf("console not started")
	}
	_, err := fmt.Fprintf(c.rl.Stdout(), "bot> %s\n", msg.Content)
	return err
}
