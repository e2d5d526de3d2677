/*
SPDX-License-Identifier: Apache-2.0

Copyright 2024 The Taxinomia Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package datasources

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttle limits the rate at which requests reach src. Requests wait for a
// token on their own goroutine, so GetRows never blocks the caller.
func Throttle(src RowSource, limiter *rate.Limiter) RowSource {
	return &throttled{src: src, limiter: limiter}
}

type throttled struct {
	src     RowSource
	limiter *rate.Limiter
}

func (t *throttled) GetRows(ctx context.Context, req Request, cb Callback) {
	go func() {
		if err := t.limiter.Wait(ctx); err != nil {
			cb.Fail(fmt.Errorf("throttled %s: %w", req.ID, err))
			return
		}
		t.src.GetRows(ctx, req, cb)
	}()
}
