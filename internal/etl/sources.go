package etl

import (
	"context"
	"fmt"
	"net/http"

	"ecoetl/internal/config"
	"ecoetl/internal/datasource"
	"ecoetl/internal/datasource/archive"
	"ecoetl/internal/datasource/file"
	"ecoetl/internal/datasource/httpds"
	"ecoetl/internal/datasource/s3src"
)

// SourceResolver turns a profile into the sources of one run.
type SourceResolver func(ctx context.Context, p config.Profile) ([]datasource.Source, error)

// ProfileSources is the default SourceResolver. A local directory with a
// pattern yields one source per matching file; every other kind yields one.
// Archive wrapping applies to each source.
func ProfileSources(ctx context.Context, p config.Profile) ([]datasource.Source, error) {
	s := p.Source
	var out []datasource.Source

	switch s.Kind {
	case config.SourceLocal:
		if s.Pattern != "" {
			files, err := file.Glob(s.Path, s.Pattern)
			if err != nil {
				return nil, err
			}
			for _, f := range files {
				out = append(out, f)
			}
		} else {
			out = append(out, file.NewLocal(s.Path))
		}

	case config.SourceRemote, config.SourceArchive:
		client := httpds.NewClient(httpds.Config{
			Timeout:            p.Runtime.FetchTimeout.D(),
			InsecureSkipVerify: s.InsecureSkipVerify,
		})
		out = append(out, httpds.NewRemote(s.URL, headers(s.Headers), client))

	case config.SourceS3:
		obj, err := s3src.New(ctx, s3src.Config{
			Bucket:          s.S3.Bucket,
			Key:             s.S3.Key,
			Region:          s.S3.Region,
			Endpoint:        s.S3.Endpoint,
			UsePathStyle:    s.S3.UsePathStyle,
			AccessKeyID:     s.S3.AccessKeyID,
			SecretAccessKey: s.S3.SecretAccessKey,
			SessionToken:    s.S3.SessionToken,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, obj)

	default:
		return nil, fmt.Errorf("unsupported source.kind=%s", s.Kind)
	}

	if s.Archive || s.Kind == config.SourceArchive {
		for i, src := range out {
			out[i] = archive.NewZip(src, s.MemberExt, s.MaxArchiveBytes)
		}
	}
	return out, nil
}

func headers(m map[string]string) http.Header {
	if len(m) == 0 {
		return nil
	}
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}
