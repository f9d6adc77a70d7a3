/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sio

import (
	"context"
	"errors"
	"time"

	"github.com/Comcast/corral/core"
	"github.com/Comcast/corral/value"

	"github.com/gorhill/cronexpr"
)

// Cron delivers a notification on a schedule.
type Cron struct {
	Inbound

	// Operation and Value make up each notification.
	Operation string
	Value     *value.Value

	expr *cronexpr.Expression
}

// ErrScheduleEnded occurs when a schedule has no more times.
var ErrScheduleEnded = errors.New("schedule has no next time")

// NewCron parses the schedule, which is a cron expression as
// understood by https://github.com/gorhill/cronexpr.
func NewCron(d Dispatcher, schedule, op string, v *value.Value) (*Cron, error) {
	expr, err := cronexpr.Parse(schedule)
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = value.New()
	}
	return &Cron{
		Inbound: Inbound{
			Name:       "cron",
			Dispatcher: d,
		},
		Operation: op,
		Value:     v,
		expr:      expr,
	}, nil
}

// Next returns the first scheduled time after t.
func (c *Cron) Next(t time.Time) time.Time {
	return c.expr.Next(t)
}

// Run delivers notifications until ctx is done.
func (c *Cron) Run(ctx context.Context) error {
	for {
		next := c.Next(time.Now())
		if next.IsZero() {
			return ErrScheduleEnded
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		m := core.NewMessage(c.Operation, c.Value.Copy())
		c.Logf("delivering %s (%d)", m.Operation, m.Id)
		if err := c.Dispatcher.Deliver(ctx, m, core.Discard); err != nil {
			c.Errorf("delivery of %s: %s", m.Operation, err)
		}
	}
}
