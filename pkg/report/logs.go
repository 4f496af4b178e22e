package report

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cw "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/rzbill/lambdeploy/pkg/awsclient"
	"github.com/rzbill/lambdeploy/pkg/types"
)

// LogsAPI is the CloudWatch Logs query used by the logs command.
type LogsAPI interface {
	FilterLogEvents(ctx context.Context, in *cw.FilterLogEventsInput, optFns ...func(*cw.Options)) (*cw.FilterLogEventsOutput, error)
}

// LogEvent is one function log line.
type LogEvent struct {
	Time    time.Time
	Stream  string
	Message string
}

// LogQuery selects recent events of one function.
type LogQuery struct {
	Function string
	Since    time.Duration
	Filter   string
	Limit    int
}

// LogGroup is the log group Lambda writes a function's output to.
func LogGroup(function string) string {
	return "/aws/lambda/" + function
}

// RecentLogs returns events newer than q.Since, oldest first, at most
// q.Limit of them.
func RecentLogs(ctx context.Context, api LogsAPI, q LogQuery) ([]LogEvent, error) {
	if q.Since <= 0 {
		q.Since = 15 * time.Minute
	}
	if q.Limit <= 0 {
		q.Limit = 100
	}
	in := &cw.FilterLogEventsInput{
		LogGroupName: aws.String(LogGroup(q.Function)),
		StartTime:    aws.Int64(time.Now().Add(-q.Since).UnixMilli()),
	}
	if q.Filter != "" {
		in.FilterPattern = aws.String(q.Filter)
	}

	var events []LogEvent
	for len(events) < q.Limit {
		out, err := api.FilterLogEvents(ctx, in)
		if err != nil {
			if awsclient.IsNotFound(err) {
				return nil, types.WrapError(types.KindStatusUnknown, err, "no logs for %s yet", q.Function)
			}
			return nil, types.WrapError(types.KindStatusUnknown, err, "read logs for %s", q.Function)
		}
		for _, ev := range out.Events {
			events = append(events, LogEvent{
				Time:    time.UnixMilli(aws.ToInt64(ev.Timestamp)),
				Stream:  aws.ToString(ev.LogStreamName),
				Message: aws.ToString(ev.Message),
			})
		}
		if aws.ToString(out.NextToken) == "" {
			break
		}
		in.NextToken = out.NextToken
	}
	if len(events) > q.Limit {
		events = events[len(events)-q.Limit:]
	}
	return events, nil
}
