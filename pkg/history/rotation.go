// Copyright (c) 2024 Clyso GmbH
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

const rotationStamp = "20060102-150405"

// rotateLogFile renames the active log to <path>.<timestamp>. The next
// Append recreates it.
func rotateLogFile(logPath string, now time.Time) (string, error) {
	rotated := fmt.Sprintf("%s.%s", logPath, now.Format(rotationStamp))
	if _, err := os.Stat(rotated); err == nil {
		rotated = fmt.Sprintf("%s.%d", rotated, now.UnixNano())
	}
	if err := os.Rename(logPath, rotated); err != nil {
		log.Error().Err(err).Msg("Error rotating event log")
		return "", fmt.Errorf("error rotating log file: %w", err)
	}
	log.Info().Str("rotatedLogPath", rotated).Msg("Rotated event log")
	return rotated, nil
}

// deleteOldLogs removes rotated siblings of logPath whose modification time
// is older than retentionDays. With an archiver, a file is only removed
// after it was archived.
func deleteOldLogs(ctx context.Context, logPath, diskID string, retentionDays int, now time.Time, archiver Archiver) int {
	logDir := filepath.Dir(logPath)
	logPattern := filepath.Base(logPath) + ".*"
	removed := 0

	err := filepath.Walk(logDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("Error accessing file")
			return nil
		}
		if info.IsDir() {
			if path != logDir {
				return filepath.SkipDir
			}
			return nil
		}

		matched, err := filepath.Match(logPattern, info.Name())
		if err != nil {
			log.Error().Err(err).Str("file", info.Name()).Msg("Error matching file")
			return nil
		}
		if !matched || now.Sub(info.ModTime()).Hours() <= float64(retentionDays*24) {
			return nil
		}

		if archiver != nil {
			if err := archiver.Archive(ctx, diskID, path); err != nil {
				log.Error().Err(err).Str("file", path).Msg("Error archiving old log file, keeping it")
				return nil
			}
		}
		if err := os.Remove(path); err != nil {
			log.Error().Err(err).Str("file", path).Msg("Error deleting old log file")
		} else {
			removed++
			log.Info().Str("file", path).Msg("Deleted old log file")
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("Error walking the log directory")
	}
	return removed
}
