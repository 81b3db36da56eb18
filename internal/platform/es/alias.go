package es

import (
	"context"
	"fmt"
	"net/http"
)

// SwitchAlias repoints the portal aliases from the old index pair to the new
// one. The new aliases are added first so the portal never loses its target;
// a missing old alias is logged and tolerated.
func (l *Loader) SwitchAlias(ctx context.Context, oldIndex, newIndex string) error {
	add := []struct{ index, alias string }{
		{newIndex, DataAlias},
		{newIndex + ArrayConfigSuffix, ArrayConfigAlias},
	}
	for _, a := range add {
		l.log.Info().Str("alias", a.alias).Str("index", a.index).Msg("adding alias")
		res, err := l.client.Indices.PutAlias([]string{a.index}, a.alias,
			l.client.Indices.PutAlias.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("adding alias %s: %w", a.alias, err)
		}
		res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("adding alias %s to %s: status %s", a.alias, a.index, res.Status())
		}
	}

	remove := []struct{ index, alias string }{
		{oldIndex, DataAlias},
		{oldIndex + ArrayConfigSuffix, ArrayConfigAlias},
	}
	for _, r := range remove {
		l.log.Info().Str("alias", r.alias).Str("index", r.index).Msg("deleting old alias")
		res, err := l.client.Indices.DeleteAlias([]string{r.index}, []string{r.alias},
			l.client.Indices.DeleteAlias.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("deleting alias %s: %w", r.alias, err)
		}
		res.Body.Close()
		if res.IsError() {
			if res.StatusCode == http.StatusNotFound {
				l.log.Error().Str("alias", r.alias).Str("index", r.index).Msg("error deleting old alias (not found)")
				continue
			}
			return fmt.Errorf("deleting alias %s from %s: status %s", r.alias, r.index, res.Status())
		}
	}
	return nil
}
