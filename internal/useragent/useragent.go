// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package useragent contains the User-Agent HTTP header constant for punchdrunk.
package useragent

// String is the user agent string used for making HTTP requests in punchdrunk.
const String = "punchdrunk"
