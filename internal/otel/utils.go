// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package otel

import (
	"go.opentelemetry.io/otel/attribute"
)

const (
	ReadErrorKey  = attribute.Key("http.read_error")  // request body read failure, io.EOF is not recorded
	WriteErrorKey = attribute.Key("http.write_error") // response write failure
)

// TransferHeaderKey keys the values of configured transfer headers in a request context.
type TransferHeaderKey string
