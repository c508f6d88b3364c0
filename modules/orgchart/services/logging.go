package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/orgchart/pkg/logging"
)

// logWithFields prefers the request-scoped entry and falls back to the store logger.
func (s *GraphStore) logWithFields(ctx context.Context, level logrus.Level, msg string, fields logrus.Fields) {
	entry := logging.FromContext(ctx)
	if entry.Logger == logrus.StandardLogger() && s.log != nil {
		entry = logrus.NewEntry(s.log)
	}
	entry.WithFields(fields).Log(level, msg)
}
