// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetch

import (
	"fmt"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/AleutianAI/conditions/services/conditions/props"
)

// DetectorManifest is the entry every detector archive must carry.
const DetectorManifest = "detector.properties"

// ManifestValidator returns a Validator that accepts a zip archive only if
// it holds manifest and the manifest parses as properties text.
func ManifestValidator(manifest string) Validator {
	return func(url, path string) error {
		zr, err := zip.OpenReader(path)
		if err != nil {
			return fmt.Errorf("%s is not a zip archive: %w", url, err)
		}
		defer zr.Close()

		for _, f := range zr.File {
			if strings.TrimPrefix(f.Name, "/") != manifest {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("open %s in %s: %w", manifest, url, err)
			}
			defer rc.Close()
			if _, err := props.Parse(rc); err != nil {
				return fmt.Errorf("%s in %s: %w", manifest, url, err)
			}
			return nil
		}
		return fmt.Errorf("%s does not contain %s", url, manifest)
	}
}
