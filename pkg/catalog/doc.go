// Package catalog manages catalog resources (categories, subcategories,
// posters, products) whose records live in a RecordStore while their images
// live in an external MediaStore.
//
// The Service coordinates both stores for every create, update and delete.
// Each operation runs its MediaStore calls before a single terminal
// RecordStore write and registers an undo action for every blob it uploads,
// so a failure after an upload deletes what the request left behind.
// Deleting a resource that other records reference is refused by the Guard.
//
// Consistency Model
//
// The two stores are never updated atomically. Two windows remain open:
// an update deletes a replaced blob before its record write commits, and a
// delete removes blobs after the record is already gone. Both fail open and
// are reported through the EventSink as orphaned assets.
package catalog
