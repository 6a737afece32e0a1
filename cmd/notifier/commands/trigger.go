package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/vhvplatform/go-wellness-notifier/internal/consumer"
	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/scheduler"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/config"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/rabbitmq"
	"github.com/vhvplatform/go-wellness-notifier/internal/signature"
)

var (
	triggerWindow    string
	triggerType      string
	triggerWeekKey   string
	triggerDigestKey string
	triggerTestUser  string
	triggerRunID     string
	triggerURL       string
	triggerQueue     bool
)

// TriggerCmd fires one job against a running service
var TriggerCmd = &cobra.Command{
	Use:   "trigger <daily_messages|trivia|generation_digest>",
	Short: "Sign and fire a notification job",
	Long: `Build a job trigger body from flags, sign it with WEBHOOK_SECRET and post
it to the service, or publish it to the trigger queue with --queue.

Examples:
  notifier trigger daily_messages --window morning
  notifier trigger daily_messages --window manual --test-user u_123
  notifier trigger trivia --type reminder --week-key 2026-W42
  notifier trigger generation_digest --digest-key 2026-W42 --queue`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job := domain.JobType(args[0])
		if _, ok := scheduler.JobPath(job); !ok {
			return fmt.Errorf("unknown job %q", args[0])
		}

		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}

		body, err := json.Marshal(triggerBody(job))
		if err != nil {
			return err
		}

		if triggerQueue {
			return publishTrigger(cmd.Context(), cfg, job, body)
		}

		url := triggerURL
		if url == "" {
			url = cfg.Scheduler.TargetURL
		}
		client := scheduler.NewTriggerClient(url, cfg.Webhook.Secret, cfg.Jobs.RunTimeout+time.Minute)
		resp, err := client.Trigger(cmd.Context(), job, body)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "HTTP %d\n%s\n", resp.StatusCode, out)
		if !resp.Success && !resp.Duplicate {
			return fmt.Errorf("job %s failed", job)
		}
		return nil
	},
}

func init() {
	TriggerCmd.Flags().StringVar(&triggerWindow, "window", "", "daily window: morning, evening or manual")
	TriggerCmd.Flags().StringVar(&triggerType, "type", "", "trivia type: start or reminder")
	TriggerCmd.Flags().StringVar(&triggerWeekKey, "week-key", "", "trivia week key (default current ISO week)")
	TriggerCmd.Flags().StringVar(&triggerDigestKey, "digest-key", "", "digest key")
	TriggerCmd.Flags().StringVar(&triggerTestUser, "test-user", "", "send only to this user, bypassing opt-out and caps")
	TriggerCmd.Flags().StringVar(&triggerRunID, "run-id", "", "explicit run id used as the run key")
	TriggerCmd.Flags().StringVar(&triggerURL, "url", "", "service base URL (default SCHEDULER_TARGET_URL)")
	TriggerCmd.Flags().BoolVar(&triggerQueue, "queue", false, "publish to the trigger queue instead of posting over HTTP")
}

func triggerBody(job domain.JobType) map[string]string {
	body := map[string]string{}
	set := func(k, v string) {
		if v != "" {
			body[k] = v
		}
	}

	switch job {
	case domain.JobDailyMessages:
		set("windowType", triggerWindow)
	case domain.JobTrivia:
		set("type", triggerType)
		week := triggerWeekKey
		if week == "" {
			week = scheduler.WeekKey(time.Now())
		}
		set("week_key", week)
	case domain.JobGenerationDigest:
		set("digest_key", triggerDigestKey)
	}
	set("testUserId", triggerTestUser)
	set("runId", triggerRunID)
	return body
}

func publishTrigger(ctx context.Context, cfg *config.Config, job domain.JobType, body []byte) error {
	if cfg.RabbitMQ.URL == "" {
		return fmt.Errorf("RABBITMQ_URL is not set")
	}

	client, err := rabbitmq.NewRabbitMQClient(cfg.RabbitMQ.URL)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer client.Close()

	if err := client.DeclareQueue(consumer.TriggerQueue); err != nil {
		return fmt.Errorf("declare trigger queue: %w", err)
	}

	msg, err := json.Marshal(domain.TriggerMessage{
		Job:       job,
		Body:      string(body),
		Signature: signature.Sign([]byte(cfg.Webhook.Secret), body),
	})
	if err != nil {
		return err
	}

	// default exchange routes by queue name
	if err := client.Publish(ctx, "", consumer.TriggerQueue, msg); err != nil {
		return fmt.Errorf("publish trigger: %w", err)
	}
	fmt.Printf("Published %s trigger to %s\n", job, consumer.TriggerQueue)
	return nil
}
