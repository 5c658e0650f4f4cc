package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/zhouzirui/gemini-chat/backend/internal/config"
	chatmodel "github.com/zhouzirui/gemini-chat/backend/internal/model/chat"
	"github.com/zhouzirui/gemini-chat/backend/internal/service/ai"
	"github.com/zhouzirui/gemini-chat/backend/internal/service/chat"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] 无法加载 .env，改用系统环境变量: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}

	key := flag.String("key", "", "Gemini API key，留空则在启动时输入")
	model := flag.String("model", cfg.AI.Model, "Gemini 模型名称")
	timeout := flag.Duration("timeout", cfg.AI.Timeout, "单次请求超时时间")
	verbose := flag.Bool("v", false, "输出调试日志")
	flag.Parse()

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	aiCfg := cfg.AI
	aiCfg.Model = *model
	aiCfg.Timeout = *timeout

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout, *key, ai.NewService(aiCfg.NewChatModel), cfg.Chat.WelcomeMessage); err != nil {
		fmt.Fprintf(os.Stderr, "chatcli: %v\n", err)
		os.Exit(1)
	}
}

// run drives one conversation from in until EOF or /quit.
func run(ctx context.Context, in io.Reader, out io.Writer, key string, exchanger chat.Exchanger, welcome string) error {
	printer := &transcriptPrinter{out: out}
	controller := chat.NewController(exchanger,
		chat.WithListener(printer),
		chat.WithWelcomeMessage(welcome),
		chat.WithLabel("cli"),
	)

	scanner := bufio.NewScanner(in)

	for !controller.HasCredential() {
		if strings.TrimSpace(key) == "" {
			fmt.Fprint(out, "Enter your Gemini API key: ")
			entered, err := readKey(in, scanner, out)
			if err != nil {
				return err
			}
			key = entered
		}
		// Failures are printed by the listener.
		_ = controller.Bootstrap(key)
		key = ""
	}

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		done, err := controller.Submit(ctx, line)
		if err != nil {
			continue
		}

		select {
		case <-done:
		case <-ctx.Done():
			return nil
		}
	}
}

// readKey reads one line, without echo when in is a terminal.
func readKey(in io.Reader, scanner *bufio.Scanner, out io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		return string(secret), err
	}
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return scanner.Text(), nil
}

// transcriptPrinter renders controller notifications to a terminal.
type transcriptPrinter struct {
	out     io.Writer
	printed int
}

func (p *transcriptPrinter) OnTranscriptChanged(transcript []chatmodel.Message) {
	for _, msg := range transcript[p.printed:] {
		fmt.Fprintf(p.out, "[%s] %s: %s\n", msg.Timestamp.Local().Format(time.Kitchen), speaker(msg.Role), msg.Content)
	}
	p.printed = len(transcript)
}

func (p *transcriptPrinter) OnPendingChanged(pending bool) {
	if pending {
		fmt.Fprintln(p.out, "Gemini is typing...")
	}
}

func (p *transcriptPrinter) OnError(err error) {
	fmt.Fprintf(p.out, "Error: %s\n", chat.ErrorMessage(err))
}

func speaker(role chatmodel.Role) string {
	if role == chatmodel.RoleUser {
		return "You"
	}
	return "Gemini"
}
