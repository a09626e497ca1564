/*
Copyright 2025 Weave Data Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package weave

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/typesense/typesense-go/typesense/api"

	"github.com/weavedata/weave/internal/search"
	"github.com/weavedata/weave/model"
)

// TypesenseClient is re-exported so callers outside the engine can build
// search-backed tooling without importing the internal package.
type TypesenseClient = search.TypesenseClient

var NewTypesenseClient = search.NewTypesenseClient

// Search performs a search on the specified collection using the provided
// query parameters.
func (w *Weave) Search(collection string, query *api.SearchCollectionParams) (interface{}, error) {
	return w.search.Search(context.Background(), collection, query)
}

// MultiSearch performs a multi-search operation across collections.
func (w *Weave) MultiSearch(searchParams *api.MultiSearchSearchesParameter) (*api.MultiSearchResult, error) {
	return w.search.MultiSearch(context.Background(), *searchParams)
}

// IndexListener pushes negotiations and their agreements into the search
// index whenever they transition.
type IndexListener struct {
	BaseNegotiationListener
	queue *Queue
}

func NewIndexListener(queue *Queue) *IndexListener {
	return &IndexListener{queue: queue}
}

func (l *IndexListener) index(n *model.Negotiation) {
	if err := l.queue.queueIndexData(n.NegotiationID, search.CollectionNegotiations, n); err != nil {
		logrus.Errorf("enqueuing index data for negotiation %s failed: %v", n.NegotiationID, err)
	}
	if n.ContractAgreement != nil {
		if err := l.queue.queueIndexData(n.ContractAgreement.AgreementID, search.CollectionAgreements, n.ContractAgreement); err != nil {
			logrus.Errorf("enqueuing index data for agreement %s failed: %v", n.ContractAgreement.AgreementID, err)
		}
	}
}

func (l *IndexListener) Initiated(n *model.Negotiation) { l.index(n) }
func (l *IndexListener) Requested(n *model.Negotiation) { l.index(n) }
func (l *IndexListener) Offered(n *model.Negotiation)   { l.index(n) }
func (l *IndexListener) Approved(n *model.Negotiation)  { l.index(n) }
func (l *IndexListener) Declined(n *model.Negotiation)  { l.index(n) }
func (l *IndexListener) Confirmed(n *model.Negotiation) { l.index(n) }
func (l *IndexListener) Cancelled(n *model.Negotiation) { l.index(n) }
func (l *IndexListener) Failed(n *model.Negotiation)    { l.index(n) }
