// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ssp

import "github.com/sirupsen/logrus"

// log is the package logger. Level and format follow the standard logrus
// logger, which the CLI configures.
var log = logrus.StandardLogger().WithField("component", "ssp")
