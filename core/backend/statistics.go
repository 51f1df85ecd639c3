// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"net/http"

	"github.com/relabs-tech/schemabase/core/logger"
	"github.com/relabs-tech/schemabase/core/store"
)

// entityStatistics represents information about an entity
type entityStatistics struct {
	Entity     string `json:"entity"`
	Collection string `json:"collection"`
	Count      int    `json:"count"`
}

// statisticsDetails represents information about the registered entities
type statisticsDetails struct {
	Entities []entityStatistics `json:"entities"`
}

func (b *Backend) handleStatistics() {
	logger.Default().Debugln("  handle statistics route: /schemabase/statistics GET")
	b.router.HandleFunc("/schemabase/statistics", b.statistics).Methods(http.MethodOptions, http.MethodGet)
}

func (b *Backend) statistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := b.caller(ctx, &Request{})
	if err != nil {
		writeError(w, r, ServerError(err))
		return
	}
	if !caller.Admin {
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return
	}

	// entries are sorted by name so that the ETag does not depend on registration order
	s := statisticsDetails{Entities: []entityStatistics{}}
	for _, entry := range b.registry.Entries() {
		rs, err := entry.DAO.FindAndReturnCursor(ctx, store.Filter{}, store.FindOptions{Limit: 1})
		var count int
		if err == nil {
			count, err = rs.Count(ctx)
		}
		if err != nil {
			logger.FromContext(ctx).WithError(err).Errorf("Error 4840: cannot count %s", entry.Config.Name)
			http.Error(w, "Error 4840", http.StatusInternalServerError)
			return
		}
		s.Entities = append(s.Entities, entityStatistics{
			Entity:     entry.Config.Name,
			Collection: entry.Config.Collection,
			Count:      count,
		})
	}
	writeJSON(w, r, http.StatusOK, s, true)
}
