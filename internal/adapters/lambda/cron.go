package lambda

import (
	"context"
	"fmt"

	"skylift/pkg/server"

	"github.com/aws/aws-lambda-go/events"
	"github.com/tidwall/gjson"
)

// JobName extracts the scheduled job name from an EventBridge event. The
// rule's input payload names the job in its "job" field; events without one
// fall back to the detail type.
func JobName(e events.CloudWatchEvent) string {
	if name := gjson.GetBytes(e.Detail, "job").String(); name != "" {
		return name
	}
	return e.DetailType
}

// CronHandler returns a Lambda handler that dispatches scheduled events to
// the job dispatcher.
func CronHandler() func(context.Context, events.CloudWatchEvent) error {
	return func(ctx context.Context, e events.CloudWatchEvent) error {
		container, err := server.GetWarmManager().GetContainer(ctx)
		if err != nil {
			return err
		}

		name := JobName(e)
		if name == "" {
			return fmt.Errorf("scheduled event names no job")
		}

		return container.Sched.Dispatch(ctx, name)
	}
}
