// pyroscope.go - Continuous profiling.
// Copyright (C) 2026  Katzenpost Developers.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package profiling starts the Pyroscope continuous profiler.
package profiling

import (
	"errors"
	"os"

	"github.com/grafana/pyroscope-go"
	"gopkg.in/op/go-logging.v1"
)

// Start initializes Pyroscope profiling from the PYROSCOPE_SERVER_ADDRESS,
// PYROSCOPE_APP_NAME and PYROSCOPE_SERVICE_TAG environment variables.
func Start(log *logging.Logger, identifier string) (*pyroscope.Profiler, error) {
	log.Info("Starting Pyroscope")

	serverAddress := os.Getenv("PYROSCOPE_SERVER_ADDRESS")
	if serverAddress == "" {
		return nil, errors.New("PYROSCOPE_SERVER_ADDRESS is not set")
	}

	appName := os.Getenv("PYROSCOPE_APP_NAME")
	if appName == "" {
		appName = "mixpor"
	}

	serviceTag := os.Getenv("PYROSCOPE_SERVICE_TAG")
	if serviceTag == "" {
		serviceTag = identifier
	}

	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   serverAddress,
		Logger:          log,
		Tags: map[string]string{
			"service": serviceTag,
		},
	})
	if err != nil {
		return nil, err
	}
	log.Infof("Pyroscope started successfully at %s, app name: %s, service tag: %s", serverAddress, appName, serviceTag)
	return p, nil
}
