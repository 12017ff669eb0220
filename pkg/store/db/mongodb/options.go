package mongodb

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func changeStreamOptions(resume bson.Raw) *options.ChangeStreamOptions {
	opts := options.ChangeStream()
	if resume != nil {
		opts.SetResumeAfter(resume)
	}
	return opts
}
