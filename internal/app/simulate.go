package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"pm-embed/internal/alerting"
	"pm-embed/internal/watch"
)

// SimulateAlert 构造一条示例变更并通过已配置的告警通道发送。
func (a *App) SimulateAlert(ctx context.Context, slug string) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	oldSource := "https://old-source.example"
	newSource := "https://new-source.example"
	note := alerting.Notification{
		RunID:   uuid.NewString(),
		RanAt:   time.Now().UTC(),
		Checked: 1,
		Changes: []watch.Change{{
			Slug:     slug,
			Kind:     watch.KindResolutionSourceChanged,
			OldValue: &oldSource,
			NewValue: &newSource,
		}},
		AdditionalMsg: "simulated alert",
	}
	return notifier.Notify(ctx, note)
}
