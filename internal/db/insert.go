package db

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/AbhinavJain2107/unihive/internal/models"
)

// InsertOne inserts a document, assigning a fresh ID when the document has
// none. An _id collision gets a regenerated ID before the next attempt;
// collisions on other unique indexes are returned to the caller after the
// retries run out.
func InsertOne(ctx context.Context, collection *mongo.Collection, doc models.IBase) (interface{}, error) {
	operation := func() error {
		doc.GenIDIfEmpty()
		_, err := collection.InsertOne(ctx, doc)
		if err != nil && IsDuplicateOn(err, "_id_") {
			doc.GenID()
		}
		return err
	}
	if err := Try(operation); err != nil {
		return nil, err
	}
	return doc, nil
}
