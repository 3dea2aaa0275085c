// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codegraph

import "errors"

// Sentinel errors for the codegraph service.
var (
	// ErrNotReady indicates no build or snapshot load has completed yet.
	ErrNotReady = errors.New("graph not ready")

	// ErrStorageDisabled indicates snapshot persistence was not configured.
	ErrStorageDisabled = errors.New("snapshot storage disabled")

	// ErrBuildInProgress indicates another full build is running.
	ErrBuildInProgress = errors.New("build in progress")

	// ErrServiceClosed indicates the service has been closed.
	ErrServiceClosed = errors.New("service closed")
)
